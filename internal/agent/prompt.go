package agent

import (
	"fmt"
	"strings"
	"time"
)

const systemPromptTemplate = `<SYSTEM_CAPABILITIES>
1. The tool 'computer' operates the screen, mouse and keyboard.
2. Answer only with tool calls that match the tool schema exactly.
3. Avoid free text outside of tool calls.
4. Current date: %s
</SYSTEM_CAPABILITIES>

<ENVIRONMENT>
- A graphical desktop session controlled through the 'computer' tool.
- A web browser is already open; use only this browser for internet access.
- Shell commands are not permitted.
</ENVIRONMENT>

<USAGE_GUIDELINES>
1. Emit at most one tool action per answer.
2. Before acting on the screen, take a screenshot to check that the target is visible.
3. If an action fails (no visible change), step back and try an alternative.
4. Skip first-run wizards: click into the address bar and navigate directly.
5. You never receive the full conversation history; older screenshots are removed.
6. Scroll left or right only when a horizontal scrollbar is visible, otherwise scroll up or down.
</USAGE_GUIDELINES>`

const stepsPolicy = `<TOOL_POLICY> - Most important!
1. Your very first action is to call the tool '%[1]s'. It tells you which computer actions the task requires.
2. After carrying out what '%[1]s' returned last, call it with 'next' to learn the following step.
3. Before planning the next action, check whether everything from the last '%[1]s' answer is done. If not, do exactly that; otherwise ask the tool what comes next.
4. Input from '%[1]s' is always important, even when it appears early in the conversation.
5. If the input from '%[1]s' is unclear or not useful, say so.
6. Always check that the current step matches what you see on the screen. Use 'prev' to go back and 'next' to go forward.
</TOOL_POLICY>

`

// BuildSystemPrompt returns the system prompt. When stepsTool is non-empty the documentation
// policy is placed in front.
func BuildSystemPrompt(stepsTool string, now time.Time) string {
	base := fmt.Sprintf(systemPromptTemplate, now.Format("Monday, January 2, 2006"))
	if stepsTool == "" {
		return base
	}
	return fmt.Sprintf(stepsPolicy, stepsTool) + base
}

// BuildUserPrompt appends an optional textual process description to the task.
func BuildUserPrompt(task, processDoc string) string {
	task = strings.TrimSpace(task)
	processDoc = strings.TrimSpace(processDoc)
	if processDoc == "" {
		return task
	}
	return task + "\n\n" + processDoc
}
