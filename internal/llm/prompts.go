package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a meticulous research analyst. Follow the output format exactly.
When JSON is requested, reply with JSON only and no commentary.`

// Expected completion sizes per call site.
const (
	FactTokens          = 1024
	GraphTokens         = 2048
	ContradictionTokens = 200
	FollowUpTokens      = 500
	ReportTokens        = 4096
)

func FactExtractionPrompt(query, title, body string) string {
	return fmt.Sprintf(`Research question: %s

Extract between 5 and 10 specific, verifiable factual statements from the source below.
Each statement must stand on its own without the surrounding text, contain concrete
details (numbers, names, dates) where the source provides them, and be a single sentence.

Source title: %s
Source text:
%s

Return a JSON array of strings, for example ["statement one", "statement two"].`, query, title, body)
}

func KnowledgeGraphPrompt(query string, statements []string) string {
	return fmt.Sprintf(`Research question: %s

Identify the key entities (people, organizations, technologies, concepts, places, events)
in the facts below and the relationships between them.

Facts:
%s

Return JSON of the form:
{"nodes": [{"entity": "name", "type": "person|organization|technology|concept|location|event", "properties": {}}],
 "relationships": [{"source": "entity name", "target": "entity name", "type": "RELATION_TYPE"}]}
Relationship endpoints must use entity names exactly as listed in nodes.`, query, numbered(statements))
}

func ContradictionPrompt(a, b string) string {
	return fmt.Sprintf(`Do these two statements contradict each other?

Statement A: %s
Statement B: %s

If they do not contradict, reply with exactly NO.
If they do, reply with one sentence explaining the contradiction.`, a, b)
}

func FollowUpPrompt(query string, statements []string) string {
	return fmt.Sprintf(`Original research question: %s

Based on these findings:
%s

Suggest 5 follow-up research questions that would fill gaps or resolve open issues,
most important first. Return a JSON array of 5 strings.`, query, numbered(statements))
}

func ReportPrompt(query string, statements []string) string {
	return fmt.Sprintf(`Write a structured research report answering: %s

Use only these findings. Cite them inline as [n] using their numbers.
%s

Return JSON of the form:
{"title": "...", "abstract": "...", "sections": [{"title": "...", "content": "..."}],
 "keyFindings": ["..."], "limitations": ["..."]}`, query, numbered(statements))
}

func numbered(items []string) string {
	var sb strings.Builder
	for i, s := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	return sb.String()
}
