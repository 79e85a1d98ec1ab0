package chmux

import (
	"fmt"

	"github.com/prep/socketpair"
	"github.com/sammck-go/logger"
)

// LoopbackSessionPair returns two connected sessions running over a unix
// socketpair in the current process, one per role. Useful for tests and for
// in-process topologies that still want real framed transfers.
func LoopbackSessionPair(log logger.Logger) (*Session, *Session, error) {
	clientConn, serverConn, err := socketpair.New("unix")
	if err != nil {
		return nil, nil, fmt.Errorf("chmux: unable to create socketpair: %w", err)
	}
	client := NewSession(log, clientConn, RoleClient)
	server := NewSession(log, serverConn, RoleServer)
	return client, server, nil
}
