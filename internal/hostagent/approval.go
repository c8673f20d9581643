package hostagent

import "fmt"

// ApprovalUI is the subset of internal/ui.UI the host agent needs to ask a
// human whether to let a viewer take control (spec.md §6 "Approval
// collaborator"). Both ui.CliUI and ui.GuiUI satisfy this narrower interface.
type ApprovalUI interface {
	Confirm(title, message string) bool
	Info(title, message string)
}

// NewUIApproval builds an Approval collaborator backed by an interactive UI:
// it asks the human via Confirm and grants or denies accordingly.
func NewUIApproval(prompt ApprovalUI) Approval {
	return func(a *Agent) {
		if prompt.Confirm("Remote control request", "Allow the connected viewer to control this computer?") {
			if err := a.Grant(); err != nil {
				prompt.Info("Remote control", fmt.Sprintf("failed to grant control: %v", err))
			}
			return
		}
		if err := a.deny("denied by user"); err != nil {
			prompt.Info("Remote control", fmt.Sprintf("failed to send denial: %v", err))
		}
	}
}
