// ABOUTME: Code review prompt templates: general, security, performance, style
// ABOUTME: Each takes language and code plus one optional focus argument

package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/mcp-runtime/internal/protocol"
)

type reviewKind struct {
	prompt      protocol.Prompt
	result      string // description returned by GetPrompt
	intro       string // text before the code block, %s is the language
	focus       []string
	optionalArg string
	optionalFmt string
}

// CodeReviewOptions selects which specialized reviews are offered. The
// general review is always available.
type CodeReviewOptions struct {
	Security    bool
	Performance bool
	Style       bool
}

// AllReviews enables every review kind.
var AllReviews = CodeReviewOptions{Security: true, Performance: true, Style: true}

// CodeReviewPrompts implements PromptProvider.
type CodeReviewPrompts struct {
	kinds  []*reviewKind
	byName map[string]*reviewKind
}

func reviewArgs(codeDesc, optName, optDesc string) []protocol.PromptArgument {
	return []protocol.PromptArgument{
		{Name: "language", Description: "Programming language (e.g., go, rust, python)", Required: true},
		{Name: "code", Description: codeDesc, Required: true},
		{Name: optName, Description: optDesc},
	}
}

// NewCodeReviewPrompts builds the provider.
func NewCodeReviewPrompts(opts CodeReviewOptions) *CodeReviewPrompts {
	kinds := []*reviewKind{{
		prompt: protocol.Prompt{
			Name:        "code_review_general",
			Description: "Comprehensive code review focusing on quality and best practices",
			Arguments:   reviewArgs("Code to review", "context", "Additional context about the code's purpose"),
		},
		result: "General code review prompt",
		intro:  "Please review the following %s code for overall quality, readability, and best practices:",
		focus: []string{
			"Code structure and organization",
			"Logic and correctness",
			"Error handling",
			"Documentation and comments",
			"Adherence to %s conventions",
		},
		optionalArg: "context",
		optionalFmt: "Additional context: %s",
	}}

	if opts.Security {
		kinds = append(kinds, &reviewKind{
			prompt: protocol.Prompt{
				Name:        "code_review_security",
				Description: "Security-focused code review checking for vulnerabilities",
				Arguments:   reviewArgs("Code to review for security issues", "threat_model", "Specific threat model or security concerns"),
			},
			result: "Security-focused code review prompt",
			intro:  "Please perform a security review of the following %s code:",
			focus: []string{
				"Input validation and sanitization",
				"Authentication and authorization",
				"Data exposure risks",
				"Injection vulnerabilities",
				"Cryptographic usage",
				"Memory safety (if applicable)",
			},
			optionalArg: "threat_model",
			optionalFmt: "Threat model considerations: %s",
		})
	}
	if opts.Performance {
		kinds = append(kinds, &reviewKind{
			prompt: protocol.Prompt{
				Name:        "code_review_performance",
				Description: "Performance-focused code review for optimization opportunities",
				Arguments:   reviewArgs("Code to review for performance", "performance_goals", "Specific performance requirements or constraints"),
			},
			result: "Performance-focused code review prompt",
			intro:  "Please review the following %s code for performance optimization opportunities:",
			focus: []string{
				"Algorithm efficiency and complexity",
				"Memory usage patterns",
				"I/O operations optimization",
				"Caching opportunities",
				"Parallel processing potential",
				"Resource cleanup",
			},
			optionalArg: "performance_goals",
			optionalFmt: "Performance requirements: %s",
		})
	}
	if opts.Style {
		kinds = append(kinds, &reviewKind{
			prompt: protocol.Prompt{
				Name:        "code_review_style",
				Description: "Style and formatting code review",
				Arguments:   reviewArgs("Code to review for style", "style_guide", "Specific style guide or conventions to follow"),
			},
			result: "Style and formatting code review prompt",
			intro:  "Please review the following %s code for style and formatting:",
			focus: []string{
				"Consistent formatting and indentation",
				"Naming conventions",
				"Code organization",
				"Comment quality and placement",
				"Language-specific style guidelines",
				"Readability improvements",
			},
			optionalArg: "style_guide",
			optionalFmt: "Style guide: %s",
		})
	}

	p := &CodeReviewPrompts{kinds: kinds, byName: make(map[string]*reviewKind, len(kinds))}
	for _, k := range kinds {
		p.byName[k.prompt.Name] = k
	}
	return p
}

// ListPrompts returns the enabled review prompts.
func (p *CodeReviewPrompts) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	out := make([]protocol.Prompt, len(p.kinds))
	for i, k := range p.kinds {
		out[i] = k.prompt
	}
	return out, nil
}

// GetPrompt renders one review prompt as a single user message.
func (p *CodeReviewPrompts) GetPrompt(ctx context.Context, name string, args map[string]string) (string, []protocol.PromptMessage, error) {
	k, ok := p.byName[name]
	if !ok {
		return "", nil, NotFound("prompt", name)
	}
	language, ok := args["language"]
	if !ok || language == "" {
		return "", nil, InvalidParams("missing required argument: language")
	}
	code, ok := args["code"]
	if !ok {
		return "", nil, InvalidParams("missing required argument: code")
	}

	var b strings.Builder
	fmt.Fprintf(&b, k.intro, language)
	fmt.Fprintf(&b, "\n\n```%s\n%s\n```\n\nFocus on:", language, code)
	for _, f := range k.focus {
		b.WriteString("\n- ")
		if strings.Contains(f, "%s") {
			fmt.Fprintf(&b, f, language)
		} else {
			b.WriteString(f)
		}
	}
	if extra := args[k.optionalArg]; extra != "" {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, k.optionalFmt, extra)
	}

	msgs := []protocol.PromptMessage{{Role: protocol.RoleUser, Content: protocol.TextContent(b.String())}}
	return k.result, msgs, nil
}
