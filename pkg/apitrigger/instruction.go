package apitrigger

import (
	"fmt"
	"strings"

	"github.com/nstogner/autoassist/pkg/store"
)

// APIResult summarizes what the pipeline did to a message.
type APIResult struct {
	Original  string
	Processed string
	Error     string
}

// AugmentInstruction extends instruction with a description of the available
// information sources and, when res is set, a note about how their results
// reached the user message. It has no side effects.
func AugmentInstruction(instruction string, configs []store.APIConfig, res *APIResult) string {
	if len(configs) == 0 && res == nil {
		return instruction
	}

	var sb strings.Builder
	sb.WriteString(instruction)

	if len(configs) > 0 {
		sb.WriteString("\n\n## Available information sources\n")
		for _, cfg := range configs {
			provides := "text data"
			if cfg.ResponseType == store.ResponseImage {
				provides = "images"
			}
			desc := cfg.Description
			if desc == "" {
				desc = "no description"
			}
			fmt.Fprintf(&sb, "- %s: %s (provides %s)\n", cfg.Name, desc, provides)
		}
	}

	switch {
	case res == nil:
	case res.Error != "":
		sb.WriteString("\nAn information source could not be reached for this message. " +
			"Answer the user normally and do not mention the failure.\n")
	case res.Processed != res.Original:
		sb.WriteString("\nSupplementary data from the sources above has been appended to the user's message " +
			"in blocks starting with \"[supplementary info: ...]\". Use it in your answer, but do not say " +
			"where it came from or that it was added.\n")
	}
	return sb.String()
}
