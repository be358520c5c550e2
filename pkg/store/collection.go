package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrSaveFailed marks an error from the write half of a load-merge-store cycle.
// The mutation was applied to the returned copy but may not be durable.
var ErrSaveFailed = errors.New("failed to save assistants")

// AutoAssistInstruction is the default persona of the AutoAssist pseudo-assistant.
const AutoAssistInstruction = "You are AutoAssist. You break requests into subtasks, delegate them to the most suitable assistant, and report the combined results."

// Append adds a display message and its wire turn, keeping both sequences in lock-step.
func (a *Assistant) Append(msg DisplayMessage, turn WireTurn) {
	a.Messages = append(a.Messages, msg)
	a.PostMessages = append(a.PostMessages, turn)
}

// TruncateAt drops every message at index i and after.
func (a *Assistant) TruncateAt(i int) {
	if i < 0 {
		i = 0
	}
	if i < len(a.Messages) {
		a.Messages = a.Messages[:i]
	}
	if i < len(a.PostMessages) {
		a.PostMessages = a.PostMessages[:i]
	}
}

// Reset clears the conversation history.
func (a *Assistant) Reset() {
	a.Messages = nil
	a.PostMessages = nil
}

// Index returns the position of the assistant with the given ID, or -1.
func Index(assistants []Assistant, id int64) int {
	for i := range assistants {
		if assistants[i].ID == id {
			return i
		}
	}
	return -1
}

// FindByTitle returns the assistant whose title matches exactly, ignoring case.
func FindByTitle(assistants []Assistant, title string) (*Assistant, bool) {
	title = strings.TrimSpace(title)
	for i := range assistants {
		if strings.EqualFold(strings.TrimSpace(assistants[i].Title), title) {
			return &assistants[i], true
		}
	}
	return nil, false
}

// Get loads the collection and returns one assistant.
func Get(ctx context.Context, s AgentStore, id int64) (Assistant, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return Assistant{}, fmt.Errorf("failed to load assistants: %w", err)
	}
	i := Index(all, id)
	if i < 0 {
		return Assistant{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return all[i], nil
}

// Update re-reads the whole collection, applies fn to the assistant with the
// given ID and writes the collection back. Nothing blocks between the read and
// the write, so the window for a lost update is as small as the store allows.
//
// If only the write fails, the mutated assistant is still returned together
// with an error wrapping ErrSaveFailed.
func Update(ctx context.Context, s AgentStore, id int64, fn func(*Assistant) error) (Assistant, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return Assistant{}, fmt.Errorf("failed to load assistants: %w", err)
	}
	i := Index(all, id)
	if i < 0 {
		return Assistant{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err := fn(&all[i]); err != nil {
		return Assistant{}, err
	}
	all[i].UpdatedAt = time.Now().UTC()
	updated := all[i]
	if err := s.SaveAll(ctx, all); err != nil {
		slog.Error("Failed to save assistants", "assistantID", id, "error", err)
		return updated, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return updated, nil
}

// Create appends a new assistant, assigning an ID when a.ID is zero.
func Create(ctx context.Context, s AgentStore, a Assistant) (Assistant, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return Assistant{}, fmt.Errorf("failed to load assistants: %w", err)
	}
	if a.ID == 0 {
		a.ID = NextID(all)
	} else if Index(all, a.ID) >= 0 {
		return Assistant{}, fmt.Errorf("assistant %d already exists", a.ID)
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	all = append(all, a)
	if err := s.SaveAll(ctx, all); err != nil {
		return a, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return a, nil
}

// Delete removes an assistant. The AutoAssist record cannot be deleted.
func Delete(ctx context.Context, s AgentStore, id int64) error {
	if id == AutoAssistID {
		return fmt.Errorf("the %s assistant cannot be deleted", AutoAssistTitle)
	}
	all, err := s.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load assistants: %w", err)
	}
	i := Index(all, id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	all = append(all[:i], all[i+1:]...)
	if err := s.SaveAll(ctx, all); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

// NextID returns an unused ordinary assistant ID.
func NextID(assistants []Assistant) int64 {
	var max int64
	for _, a := range assistants {
		if a.ID != AutoAssistID && a.ID > max {
			max = a.ID
		}
	}
	next := max + 1
	if next == AutoAssistID {
		next++
	}
	return next
}

// EnsureAutoAssist seeds the AutoAssist record if the collection lacks it.
func EnsureAutoAssist(ctx context.Context, s AgentStore) error {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load assistants: %w", err)
	}
	if Index(all, AutoAssistID) >= 0 {
		return nil
	}
	now := time.Now().UTC()
	auto := Assistant{
		ID:                AutoAssistID,
		Title:             AutoAssistTitle,
		SystemInstruction: AutoAssistInstruction,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	// AutoAssist is listed first.
	all = append([]Assistant{auto}, all...)
	slog.Info("Seeding AutoAssist assistant")
	return s.SaveAll(ctx, all)
}
