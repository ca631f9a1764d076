package tui

import "github.com/orion-deck/orion-deck/pkg/models"

// Messages delivered into the bubbletea loop by the UI adapter. Everything
// the reconciler and workflow controller push arrives through these; the
// model itself never touches shared state.

type busyMsg struct {
	on bool
}

type errorMsg struct {
	text string
}

type clearErrorMsg struct{}

type emptyMsg struct{}

type upsertMsg struct {
	node models.Node
}

type removeMsg struct {
	nodeID int64
}

type clearLeaseMsg struct {
	rentalID int64
}

type passwordMsg struct {
	rentalID int64
	password string
}

type noticeMsg struct {
	text string
}

type resetMsg struct{}

// actionResultMsg is sent when an asynchronous mutation call completes.
// Failures surface in the status bar; success feedback arrives separately
// through the controller's Notify.
type actionResultMsg struct {
	err error
}
