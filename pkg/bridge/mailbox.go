package bridge

import (
	"context"

	"github.com/odvcencio/backchannel/pkg/browser"
)

// mailbox is the host side of the stream rendezvous: two DOM nodes the
// injected driver writes and the assembler polls. The data node holds
// the latest frame, base64 encoded; the eof node exists once the
// request has finished.
type mailbox struct {
	host browser.Host
}

func (m mailbox) dataPresent(ctx context.Context) (bool, error) {
	return m.host.ElementExists(ctx, streamDivID)
}

func (m mailbox) eofPresent(ctx context.Context) (bool, error) {
	return m.host.ElementExists(ctx, eofDivID)
}

// readData returns the base64 payload of the data node. An empty string
// means the driver has created the node but published nothing yet.
func (m mailbox) readData(ctx context.Context) (string, error) {
	return m.host.InnerHTML(ctx, streamDivID)
}

// clear removes both rendezvous nodes. Absent nodes are not an error;
// a stream that timed out before the driver ran leaves nothing behind.
func (m mailbox) clear(ctx context.Context) error {
	errData := m.host.RemoveElement(ctx, streamDivID)
	errEOF := m.host.RemoveElement(ctx, eofDivID)
	if errData != nil {
		return errData
	}
	return errEOF
}
