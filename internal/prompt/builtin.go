package prompt

// ProposeTemplate is the name of the template hosted proposers render.
const ProposeTemplate = "propose.md"

var builtinTemplates = map[string]string{
	ProposeTemplate: proposeTemplate,
}

const proposeTemplate = `# Repair: {{task_id}} ({{language}})

## Task
{{prompt}}
{{#if function_name}}
Entry point: ` + "`{{function_name}}`" + `
{{/if}}
{{#if signature}}
Required signature: ` + "`{{signature}}`" + `
{{/if}}

## Current candidate
` + "```{{language}}" + `
{{code}}
` + "```" + `

## Verification failure
Stage: {{stage}}
{{#if failure_type}}
Failure type: {{failure_type}}
{{/if}}
{{#if error_signature}}
Signature: {{error_signature}}
{{/if}}
{{#if error_message}}
Message: {{error_message}}
{{/if}}
{{#if test_cases}}

## Recorded test cases
{{test_cases}}
{{/if}}

## Instructions
Return the complete corrected source file in a single fenced code block.
Keep the entry point name and signature. Do not add tests, prints or
explanations outside the code block.
`
