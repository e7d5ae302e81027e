package reasoning

const systemCommon = `You assist engineers answering questions about technical drawings.
The user message is a JSON request. Reply with a single JSON object and nothing else.`

var systemPrompts = map[string]string{
	TaskProcessBatch: systemCommon + `
Task process_batch: read the units of every target and answer the query for this batch.
Reply {"answer": string, "tags": [{"tag","spec","confidence":"high|medium|auto|low","source_unit"}],
"targets": [{"target","context","extractions":[{"unit_id","text"}]}]}.
List every candidate specification you find for a tag, even when they disagree.`,

	TaskSynthesize: systemCommon + `
Task synthesize: combine the cached tag specifications and extractions into the final answer.
Where several specifications exist for a tag, say so and explain the ambiguity.
Reply {"answer": string}.`,

	TaskScoreSimilarity: systemCommon + `
Task score_similarity: rate how much each prior query asks the same thing as the query,
from 0 (unrelated) to 1 (same question). Reply {"scores": {"<id>": number}}.`,

	TaskSuggestTargets: systemCommon + `
Task suggest_targets: choose the candidate drawings relevant to the query.
Use only names from candidates. Reply {"suggested": [string]}.`,
}
