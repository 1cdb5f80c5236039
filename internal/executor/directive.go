package executor

import (
	"fmt"
	"strings"
	"time"
)

// buildStartDirective composes the human-readable directive handed to an
// external LLM agent at sprint start (§4.4).
func buildStartDirective(sprintName string, taskQueue []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sprint %q is starting with %d tasks.\n\n", sprintName, len(taskQueue))
	b.WriteString("## Task order\n")
	for i, id := range taskQueue {
		fmt.Fprintf(&b, "%d. %s\n", i+1, id)
	}
	b.WriteString("\n## Instructions\n")
	b.WriteString("Process every task in the order listed above, without pausing between them.\n")
	b.WriteString("When a task is finished, call the completion callback for that task before starting the next.\n")
	b.WriteString("Do not skip ahead; the queue is strictly sequential.\n")
	return b.String()
}

func buildContinuationDirective(nextTaskID string, completed, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task complete (%d/%d). Proceed immediately to the next task: %s\n", completed, total, nextTaskID)
	b.WriteString("Do not pause for confirmation; continue processing the queue.\n")
	return b.String()
}

func buildTerminalDirective(completed, total int, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "All %d tasks complete in %s. The sprint session is finished.\n", total, elapsed.Round(time.Second))
	fmt.Fprintf(&b, "Final count: %d/%d tasks done. No further action required.\n", completed, total)
	return b.String()
}
