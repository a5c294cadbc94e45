package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeKind identifies the behaviour of a workflow node.
type NodeKind string

const (
	KindStart NodeKind = "start"
	KindEnd   NodeKind = "end"

	KindAIResearch  NodeKind = "ai-research"
	KindAISummarize NodeKind = "ai-summarize"
	KindAIGenerate  NodeKind = "ai-generate"
	KindAIAnalyze   NodeKind = "ai-analyze"
	KindAIStudy     NodeKind = "ai-study"

	KindWhatsApp NodeKind = "whatsapp"
	KindTelegram NodeKind = "telegram"
	KindEmail    NodeKind = "email"

	KindPDFExport       NodeKind = "pdf-export"
	KindCalendar        NodeKind = "calendar"
	KindLessonReference NodeKind = "lesson-reference"

	KindTopic            NodeKind = "topic"
	KindVideo            NodeKind = "video"
	KindQuiz             NodeKind = "quiz"
	KindAssignment       NodeKind = "assignment"
	KindResource         NodeKind = "resource"
	KindBreak            NodeKind = "break"
	KindFlashcards       NodeKind = "flashcards"
	KindNotes            NodeKind = "notes"
	KindTimer            NodeKind = "timer"
	KindPomodoro         NodeKind = "pomodoro"
	KindMindmap          NodeKind = "mindmap"
	KindQuizGenerator    NodeKind = "quiz-generator"
	KindBookmark         NodeKind = "bookmark"
	KindHighlighter      NodeKind = "highlighter"
	KindSummary          NodeKind = "summary"
	KindPresentation     NodeKind = "presentation"
	KindRecording        NodeKind = "recording"
	KindImageAnalyzer    NodeKind = "image-analyzer"
	KindVideoAnalyzer    NodeKind = "video-analyzer"
	KindAudioTranscriber NodeKind = "audio-transcriber"
	KindTranslator       NodeKind = "translator"
	KindCalculator       NodeKind = "calculator"
	KindResearch         NodeKind = "research"
	KindIdeaGenerator    NodeKind = "idea-generator"
	KindProgressTracker  NodeKind = "progress-tracker"
)

// KindFamily groups node kinds that share one action handler.
type KindFamily string

const (
	FamilyStart     KindFamily = "start"
	FamilyEnd       KindFamily = "end"
	FamilyAI        KindFamily = "ai"
	FamilyMessaging KindFamily = "messaging"
	FamilyPDF       KindFamily = "pdf"
	FamilyCalendar  KindFamily = "calendar"
	FamilyLesson    KindFamily = "lesson"
	FamilyContent   KindFamily = "content"
)

// kindFamilies is the closed set of node kinds. A kind missing here does not exist.
var kindFamilies = map[NodeKind]KindFamily{
	KindStart: FamilyStart,
	KindEnd:   FamilyEnd,

	KindAIResearch:  FamilyAI,
	KindAISummarize: FamilyAI,
	KindAIGenerate:  FamilyAI,
	KindAIAnalyze:   FamilyAI,
	KindAIStudy:     FamilyAI,

	KindWhatsApp: FamilyMessaging,
	KindTelegram: FamilyMessaging,
	KindEmail:    FamilyMessaging,

	KindPDFExport:       FamilyPDF,
	KindCalendar:        FamilyCalendar,
	KindLessonReference: FamilyLesson,

	KindTopic:            FamilyContent,
	KindVideo:            FamilyContent,
	KindQuiz:             FamilyContent,
	KindAssignment:       FamilyContent,
	KindResource:         FamilyContent,
	KindBreak:            FamilyContent,
	KindFlashcards:       FamilyContent,
	KindNotes:            FamilyContent,
	KindTimer:            FamilyContent,
	KindPomodoro:         FamilyContent,
	KindMindmap:          FamilyContent,
	KindQuizGenerator:    FamilyContent,
	KindBookmark:         FamilyContent,
	KindHighlighter:      FamilyContent,
	KindSummary:          FamilyContent,
	KindPresentation:     FamilyContent,
	KindRecording:        FamilyContent,
	KindImageAnalyzer:    FamilyContent,
	KindVideoAnalyzer:    FamilyContent,
	KindAudioTranscriber: FamilyContent,
	KindTranslator:       FamilyContent,
	KindCalculator:       FamilyContent,
	KindResearch:         FamilyContent,
	KindIdeaGenerator:    FamilyContent,
	KindProgressTracker:  FamilyContent,
}

// kindAliases maps legacy tags onto canonical kinds.
var kindAliases = map[string]NodeKind{
	"lesson-connector": KindLessonReference,
}

// ParseNodeKind resolves a tag (or a legacy alias) into a known NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	k := NodeKind(s)
	if _, ok := kindFamilies[k]; !ok {
		return "", NewErrorf(ErrCodeValidation, "unknown node kind %q", s)
	}
	return k, nil
}

// Valid reports whether k belongs to the closed set of node kinds.
func (k NodeKind) Valid() bool {
	_, ok := kindFamilies[k]
	return ok
}

// Family returns the handler family of k. Unknown kinds return "".
func (k NodeKind) Family() KindFamily {
	return kindFamilies[k]
}

// UnmarshalJSON rejects unknown kinds and folds aliases.
func (k *NodeKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("node kind: %w", err)
	}
	parsed, err := ParseNodeKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Kinds returns every known node kind in sorted order.
func Kinds() []NodeKind {
	out := make([]NodeKind, 0, len(kindFamilies))
	for k := range kindFamilies {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Families returns every family that has at least one kind, sorted.
func Families() []KindFamily {
	seen := make(map[KindFamily]bool)
	out := make([]KindFamily, 0, 8)
	for _, f := range kindFamilies {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
