// Package policy manages generation policy artifacts: the serialized state
// (instructions plus few-shot demos) produced by an optimization run, and
// the startup decision of which artifact a process serves.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned by Load when no artifact file exists at the path.
// A missing artifact is recoverable (serve baseline); a corrupt one is not.
var ErrNotFound = errors.New("artifact not found")

// BaselineID names the built-in policy served when no optimized artifact applies.
const BaselineID = "baseline"

// Demo is one few-shot demonstration carried by an optimized artifact.
type Demo struct {
	Question string   `json:"question"`
	Context  []string `json:"context"`
	Answer   string   `json:"answer"`
}

// Artifact is a versioned, serialized generation policy. Artifacts are
// written exclusively by the optimizer and read-only for serving.
type Artifact struct {
	Optimizer    string    `json:"optimizer"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	Instructions string    `json:"instructions"`
	Demos        []Demo    `json:"demos,omitempty"`
}

// Baseline returns the built-in policy: answer strictly from the provided
// context, with fixed refusal behavior and no demonstrations.
func Baseline() *Artifact {
	return &Artifact{
		Optimizer:    BaselineID,
		Version:      0,
		Instructions: baselineInstructions,
	}
}

const baselineInstructions = `You are a factual assistant.
You must answer using ONLY the information provided in the context below.
Give a detailed answer.

If the user asks for jokes, poems, comedy, stories, creative writing, or entertainment of any kind, respond exactly with:
"I can’t generate jokes or poems, but I can help explain concepts, provide summaries, or answer factual questions."

If the question is opinion-based, hypothetical, or cannot be answered factually using the given context, respond exactly with:
"I do not know the answer based on the provided document."

If the context is empty, irrelevant, or does not contain enough information to answer the question, respond exactly with:
"I do not know the answer based on the provided document."

Keep the answer factual, concise and neutral in tone.`

// ArtifactPath returns the conventional location of the current artifact
// for the given optimizer identity.
func ArtifactPath(dir, optimizer string) string {
	return filepath.Join(dir, "optimized_"+optimizer+".json")
}

// Load reads and validates an artifact file. A missing file returns
// ErrNotFound; an unreadable or invalid file returns a non-sentinel error,
// which callers treat as fatal at startup.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("corrupt artifact %s: %w", path, err)
	}
	if a.Instructions == "" {
		return nil, fmt.Errorf("corrupt artifact %s: empty instructions", path)
	}
	return &a, nil
}

// Save writes the artifact atomically: marshal to a temp file in the target
// directory, keep any existing artifact as a .bak sibling, then rename the
// temp file into place. Concurrently starting processes never observe a
// partially written artifact.
func Save(path string, a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp artifact: %w", err)
	}

	// Keep the previous artifact around for manual rollback.
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("backing up previous artifact: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("installing artifact: %w", err)
	}
	return nil
}
