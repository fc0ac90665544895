package nodes

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Prompt templates use FString variables; literal braces must not appear in
// the template text itself.

func agentDetectionTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(`You route user requests to the agent that should handle them.

Agents:
- chat: general conversation, document question answering, information lookup
- meeting: meeting related requests such as writing minutes, processing recordings or summarizing a meeting

Answer with the agent name only: chat or meeting.`),
		schema.UserMessage("User message: {user_message}"),
	)
}

func questionClassificationTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(`Classify the user's question into exactly one category:

1. FACT: asks for a specific fact or piece of information
2. SUMMARY: asks for a summary
3. COMPARE: asks for a comparison
4. EVIDENCE: asks for grounds, sources or evidence

Answer with the category only: FACT, SUMMARY, COMPARE or EVIDENCE.`),
		schema.UserMessage("User question: {user_message}"),
	)
}

func summarizeTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage("You condense conversations into short factual summaries that preserve names, numbers, decisions and open questions."),
		schema.MessagesPlaceholder("messages", false),
		schema.UserMessage("Summarize the conversation above concisely, keeping only the essential points."),
	)
}

const answerContextBlock = `

<context>
{context}
</context>`

var answerInstructions = map[string]string{
	"FACT": `You are an assistant answering questions from retrieved documents.

<instructions>
- Give factual, accurate answers grounded in the document context
- Do not guess at anything the documents do not contain; say it cannot be confirmed from the documents
- Point to the document content your answer relies on
</instructions>`,
	"SUMMARY": `You are an assistant that summarizes documents.

<instructions>
- Summarize the key content clearly and concisely
- Keep the important keywords and concepts
- Organize the summary hierarchically, topic first, details after
</instructions>`,
	"COMPARE": `You are an assistant that compares documents.

<instructions>
- State the similarities and differences between the compared items
- Prefer a table or another structured layout
- Base the comparison on objective evidence
</instructions>`,
	"EVIDENCE": `You are an assistant that finds evidence for claims.

<instructions>
- Present concrete grounds and evidence from the documents
- Cite the source of every quotation
- Say so plainly when the evidence is insufficient
</instructions>`,
}

func answerTemplate(questionType string) prompt.ChatTemplate {
	instructions, ok := answerInstructions[questionType]
	if !ok {
		instructions = answerInstructions["FACT"]
	}
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(instructions+answerContextBlock),
		schema.MessagesPlaceholder("messages", false),
	)
}

func minutesTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(`You write meeting minutes from speaker-labelled transcripts.

Structure the minutes as:
1. Overview: purpose and participants
2. Discussion: main topics, one short paragraph each
3. Decisions
4. Action items with owners when they are named

Only use what the transcript contains.`),
		schema.UserMessage("Request: {request}\n\nTranscript:\n{transcript}"),
	)
}
