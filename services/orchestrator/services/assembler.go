// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/docsgpt/services/orchestrator/datatypes"
	"github.com/AleutianAI/docsgpt/services/orchestrator/tokenizer"
)

// DefaultContextBudget is the maximum number of context tokens in a prompt.
const DefaultContextBudget = 1024

// DefaultPersona names the assistant and the documentation it answers from.
const DefaultPersona = "Celo"

// RefusalPhrase is the answer the model is told to give when the
// documentation does not contain the answer.
const RefusalPhrase = "Sorry, I don't know how to help with that."

const sectionSeparator = "\n---\n"

const systemPromptTemplate = `You are a very enthusiastic %s AI who loves to help people! Given the following information from the %s documentation, answer the user's question using only that information, outputted in markdown format.
If you are unsure and the answer is not explicitly written in the documentation, say "` + RefusalPhrase + `"

Always include related code snippets if available.`

const answerRules = `Answer my next question using only the above documentation. You must also follow the below rules when answering:
- Do not make up answers that are not provided in the documentation.
- If you are unsure and the answer is not explicitly written in the documentation context, say "` + RefusalPhrase + `"
- Prefer splitting your response into multiple paragraphs and add one blank line between them.
- Output as markdown with code snippets if available.
- Make sure to not do spelling mistakes. Please use the words from the documentation.
- Keep the answer short, clear and organised as possible.`

// AssemblerConfig configures prompt assembly.
type AssemblerConfig struct {
	// Budget caps the context tokens. Defaults to DefaultContextBudget.
	Budget int `yaml:"budget"`
	// Persona defaults to DefaultPersona.
	Persona string `yaml:"persona"`
}

// Assembler builds the chat prompt from a query and ranked sections.
type Assembler struct {
	counter tokenizer.Counter
	budget  int
	persona string
}

// NewAssembler creates an Assembler that measures sections with counter.
func NewAssembler(counter tokenizer.Counter, cfg AssemblerConfig) *Assembler {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultContextBudget
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	return &Assembler{counter: counter, budget: cfg.Budget, persona: cfg.Persona}
}

// Budget returns the context token budget.
func (a *Assembler) Budget() int {
	return a.budget
}

// Assemble folds sections into a prompt without exceeding the token budget.
//
// # Description
//
// Sections are taken in the order given. Each candidate is counted first;
// if the running total plus the candidate would reach the budget, the
// candidate is left out and no later section is considered. Included
// sections are never reordered. Neither argument is modified.
//
// # Outputs
//
//   - datatypes.AssembledPrompt: system, context, rules and question
//     messages, in that order. ContextTokens < budget.
func (a *Assembler) Assemble(query string, sections []datatypes.ContextSection) datatypes.AssembledPrompt {
	var (
		contextText strings.Builder
		running     int
		included    []datatypes.ContextSection
	)

	for _, section := range sections {
		candidate := a.counter.Count(section.Content)
		if running+candidate >= a.budget {
			break
		}
		running += candidate
		counted := section
		counted.TokenCount = candidate
		included = append(included, counted)
		contextText.WriteString(strings.TrimSpace(section.Content))
		contextText.WriteString(sectionSeparator)
	}

	docsName := strings.ToLower(a.persona)
	messages := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: fmt.Sprintf(systemPromptTemplate, a.persona, docsName)},
		{Role: datatypes.RoleUser, Content: fmt.Sprintf("Here is the %s documentation:\n%s", docsName, contextText.String())},
		{Role: datatypes.RoleUser, Content: answerRules},
		{Role: datatypes.RoleUser, Content: "Here is my question:\n" + strings.Join(strings.Fields(query), " ")},
	}

	return datatypes.AssembledPrompt{
		Messages:         messages,
		ContextText:      contextText.String(),
		ContextTokens:    running,
		IncludedSections: len(included),
		Sections:         included,
	}
}
