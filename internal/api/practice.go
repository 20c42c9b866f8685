package api

import (
	"net/http"
	"strings"

	"talky/internal/apperr"
	"talky/internal/feedback"
)

type lessonResponse struct {
	Words     []string `json:"words"`
	Sentences []string `json:"sentences"`
}

type wordBankResponse struct {
	Category string              `json:"category"`
	Words    []feedback.WordCard `json:"words"`
}

// handleLessons generates practice sentences. ?words= takes a comma
// separated list.
func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	if s.practice == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "lesson generation is not configured"})
		return
	}

	words := splitWords(r.URL.Query().Get("words"))
	if len(words) == 0 {
		words = feedback.DefaultLessonWords
	}

	sentences, err := s.practice.Sentences(r.Context(), words)
	if err != nil {
		writeError(w, r, apperr.External("failed to generate lesson", err))
		return
	}

	writeJSON(w, http.StatusOK, lessonResponse{Words: words, Sentences: sentences})
}

func (s *Server) handleWordBank(w http.ResponseWriter, r *http.Request) {
	if s.practice == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "lesson generation is not configured"})
		return
	}

	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		category = feedback.DefaultCategory
	}

	cards, err := s.practice.WordBank(r.Context(), category)
	if err != nil {
		writeError(w, r, apperr.External("failed to generate word bank", err))
		return
	}

	writeJSON(w, http.StatusOK, wordBankResponse{Category: category, Words: cards})
}

func splitWords(s string) []string {
	var words []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}
