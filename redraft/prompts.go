package redraft

import (
	"fmt"
	"strings"

	"github.com/oraraka-deko/redraft/patch"
)

const editNarrationSystem = `You are a writing assistant working inside a document editor.
The user gives instructions about their document. Explain briefly and conversationally what you are going to change and why.
Do not reproduce the full rewritten document; the edits are applied separately.`

const askNarrationSystem = `You are a writing assistant working inside a document editor.
Answer the user's question about their document clearly and concisely. Do not rewrite the document.`

const searchHint = `You can search the web with the web_search tool when the instructions need current facts. Mention what you found.`

const changesSystem = `You produce precise text edits for a document.
Return a JSON object {"changes": [{"original": ..., "replacement": ...}]}.
Rules:
- "original" must be an exact, case-sensitive substring of the current document, copied character for character.
- To add text at the end of the document, or to fill an empty document, use "original": "` + patch.AppendSentinel + `".
- An empty "replacement" deletes the original text.
- Keep each original as short as possible while still unique in the document.
- Write replacements as plain text without markdown formatting.
- Only make the changes explained in the assistant's explanation.`

const distillSystem = `You maintain a short context note for a document.
Merge the previous note with the new conversation into an updated note of at most 120 words: the document's topic, tone, audience and any standing preferences the user stated.
Reply with the note only.`

func narrationSystem(mode ActionMode, search bool, docContext string) string {
	var b strings.Builder
	if mode == ModeAsk {
		b.WriteString(askNarrationSystem)
	} else {
		b.WriteString(editNarrationSystem)
	}
	if search {
		b.WriteString("\n\n")
		b.WriteString(searchHint)
	}
	if docContext != "" {
		b.WriteString("\n\nDocument context:\n")
		b.WriteString(docContext)
	}
	return b.String()
}

// narrationInput is the user message of the narration call.
func narrationInput(req Request) string {
	var b strings.Builder
	b.WriteString("Current document:\n")
	if req.CurrentText == "" {
		b.WriteString("(empty)")
	} else {
		b.WriteString(req.CurrentText)
	}
	b.WriteString("\n\nInstructions:\n")
	b.WriteString(req.Instructions)
	return b.String()
}

// changesInput grounds the change-map call in the narration and, when
// present, the search findings.
func changesInput(req Request, docContext, narration string, f SearchFinding) string {
	var b strings.Builder
	if docContext != "" {
		fmt.Fprintf(&b, "Document context:\n%s\n\n", docContext)
	}
	fmt.Fprintf(&b, "Instructions:\n%s\n\n", req.Instructions)
	if narration != "" {
		fmt.Fprintf(&b, "Assistant's explanation of the changes:\n%s\n\n", narration)
	}
	if f.Text != "" {
		fmt.Fprintf(&b, "Web search findings (query %q):\n%s\n", f.Query, f.Text)
		for _, s := range f.Sources {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	b.WriteString("Current document:\n")
	if req.CurrentText == "" {
		b.WriteString("(empty, use " + patch.AppendSentinel + ")")
	} else {
		b.WriteString(req.CurrentText)
	}
	return b.String()
}

func distillInput(previous string, turns []Turn) string {
	var b strings.Builder
	if previous != "" {
		fmt.Fprintf(&b, "Previous note:\n%s\n\n", previous)
	}
	b.WriteString("Conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s]: %s\n\n", t.Role, truncate(t.Content, 500))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
