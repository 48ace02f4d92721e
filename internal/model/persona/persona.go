// Package persona defines the closed set of study personas and their prompt instructions.
package persona

import "strings"

// Key identifies one of the built-in study personas. The set is closed.
type Key string

const (
	Summary   Key = "summary"
	Breakdown Key = "breakdown"
	Sassy     Key = "sassy"
	GenZ      Key = "genz"
	Toddler   Key = "toddler"
	Exam      Key = "exam"
	MCQ       Key = "mcq"
	Theory    Key = "theory"
	DeepRoots Key = "deep_roots"
)

// Default is used whenever a caller asks for a persona that does not exist.
const Default = Summary

// Spec captures the tone and strategy preset exposed to the frontend.
type Spec struct {
	Key         Key    `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Instruction drives open-ended chat turns.
	Instruction string `json:"-"`
	// Brief is the standalone task used by one-shot study actions.
	Brief string `json:"-"`
}

// Keys lists every persona in display order.
func Keys() []Key {
	return []Key{Summary, Breakdown, Sassy, GenZ, Toddler, Exam, MCQ, Theory, DeepRoots}
}

// Catalog returns the specs of all personas in display order.
func Catalog() []Spec {
	keys := Keys()
	specs := make([]Spec, 0, len(keys))
	for _, key := range keys {
		specs = append(specs, key.Spec())
	}
	return specs
}

// Resolve maps a raw key to a persona. The boolean reports whether raw named a
// known persona; when it is false the default persona is returned.
func Resolve(raw string) (Spec, bool) {
	key := Key(strings.ToLower(strings.TrimSpace(raw)))
	spec := key.Spec()
	return spec, spec.Key == key
}

// Spec returns the preset for k, falling back to the default persona.
func (k Key) Spec() Spec {
	switch k {
	case Summary:
		return Spec{
			Key:         Summary,
			Title:       "Quick Summary",
			Description: "The must-know points of your notes in a handful of bullets.",
			Instruction: "You are a master of brevity. Summarize concepts into key bullet points. Focus on 'must-know' info for an exam.",
			Brief:       "Summarize these notes into 5 key bullet points. Focus on 'must-know' info for an exam.",
		}
	case Breakdown:
		return Spec{
			Key:         Breakdown,
			Title:       "Deep Breakdown",
			Description: "Get a structured, logical breakdown of complex topics within your notes.",
			Instruction: "You are a logical professor. Break down complex topics into a structured, easy-to-follow hierarchy.",
			Brief:       "Break down the complex topics in these notes into a structured, easy-to-follow hierarchy.",
		}
	case Sassy:
		return Spec{
			Key:         Sassy,
			Title:       "Sassy Tutor",
			Description: "Funny, sarcastic, and slightly unhinged real-life examples to make it stick.",
			Instruction: "You are a brilliant but sarcastic tutor. Explain core concepts using funny, slightly mean, but highly effective real-life examples.",
			Brief:       "Explain the core concepts of these notes using funny, slightly mean, but highly effective real-life examples.",
		}
	case GenZ:
		return Spec{
			Key:         GenZ,
			Title:       "Brain Rot Mode",
			Description: "Explained using Gen Z slang and informal internet culture. No cap.",
			Instruction: "You are a Gen Z study influencer. Explain material using brain-rot slang (no cap, skibidi, rizz, etc.) and informal internet humor.",
			Brief:       "Explain this material using brain-rot slang (no cap, skibidi, rizz, etc.) and informal internet humor.",
		}
	case Toddler:
		return Spec{
			Key:         Toddler,
			Title:       "ELI5 Mode",
			Description: "Explain like I'm a toddler. Simple analogies and zero academic jargon.",
			Instruction: "You are a kindergarten teacher. Explain complex topics like I am 5 years old. Use simple analogies like toys or food.",
			Brief:       "Explain these complex university topics like I am 5 years old. Use simple analogies like toys or food.",
		}
	case Exam:
		return Spec{
			Key:         Exam,
			Title:       "Mock Exam",
			Description: "Full-length exam simulation based on your specific lecture content.",
			Instruction: "You are a strict examiner. Challenge the student with mock exam questions based on their input.",
			Brief:       "Based on these notes, generate 3 challenging mock exam questions (1 MCQ, 1 Fill-in-the-blank, 1 Theory).",
		}
	case MCQ:
		return Spec{
			Key:         MCQ,
			Title:       "Quick MCQs",
			Description: "Rapid-fire multiple choice questions to test your memory on the fly.",
			Instruction: "You are a quiz master. Generate rapid-fire multiple choice questions based on the user's query.",
			Brief:       "Generate 5 rapid-fire multiple choice questions from these notes. Number each question, end it with a question mark, list options A-D, and reveal the answers at the end.",
		}
	case Theory:
		return Spec{
			Key:         Theory,
			Title:       "Theory Write-up",
			Description: "Write an essay response and get graded instantly with feedback.",
			Instruction: "You are an academic grader. Ask the user to write a short response, then grade it critically.",
			Brief:       "Pose one theory question drawn from these notes, explain what a top-grade answer must cover, and describe how you will grade the student's response.",
		}
	case DeepRoots:
		return Spec{
			Key:         DeepRoots,
			Title:       "Deep Roots",
			Description: "Curated external resources to learn the basics of this subject from scratch.",
			Instruction: "You are a librarian. Suggest external resources or foundational concepts related to the query.",
			Brief:       "Suggest external resources and the foundational concepts a student should learn first to master these notes.",
		}
	default:
		return Default.Spec()
	}
}
