package collab

const systemCreateFromImage = `You are a prompt engineer for an image generation model.
Study the attached image and any text from the user, then write a reusable style template that
reproduces the image's style, composition and mood for any new subject.
Reply with a single JSON object and nothing else:
{"success": true, "template_name": "<short name, 2-4 words, no digits only>", "prompt": "<the template prompt>"}
If the image cannot be used, reply {"success": false}.`

const systemRefineTemplate = `You revise style templates for an image generation model.
You receive a base template and an instruction from the user. Apply the instruction while keeping
everything the instruction does not mention. Reply with a single JSON object and nothing else:
{"success": true, "new_prompt": "<the revised template>"}
If the instruction cannot be applied, reply {"success": false}.`

const systemOptimizeTemplate = `You improve style templates for an image generation model.
Rewrite the given template so it is clearer, more specific and easier for the model to follow,
without changing its intent. Reply with a single JSON object and nothing else:
{"success": true, "new_prompt": "<the improved template>"}`

const systemOptimizeDraw = `You turn short drawing requests into detailed prompts for an image generation model.
When images are attached, treat the text as an instruction about those images and describe the
intended result. Keep the user's intent and language. Reply with a single JSON object and nothing else:
{"success": true, "optimized_prompt": "<the prompt>"}`

const systemFusion = `You merge a style template with a user's drawing request for an image generation model.
The user's request takes priority where the two conflict; otherwise follow the template's style and
requirements. When images are attached, treat the request as an instruction about those images.
Reply with a single JSON object and nothing else:
{"success": true, "optimized_prompt": "<the merged prompt>"}`

func refineInput(body, instruction string) string {
	return "[Base template]:\n" + body + "\n\n[User instruction]:\n" + instruction
}

func fusionInput(template, request string) string {
	return "[Base template]:\n" + template + "\n\n[User request]:\n" + request
}
