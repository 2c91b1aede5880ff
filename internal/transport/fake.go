package transport

import "context"

// Fake is an in-memory Transport double for signaling-layer tests: it
// records every Send call and lets the test inject inbound frames and
// closures by calling its exported fields directly.
type Fake struct {
	kind        Kind
	ConnectErr  error
	Sent        [][]byte
	handler     Handler
	closed      bool
	ConnectCalls int
}

// NewFake returns a Fake reporting the given Kind.
func NewFake(kind Kind) *Fake {
	return &Fake{kind: kind}
}

func (f *Fake) Kind() Kind { return f.kind }

func (f *Fake) Connect(ctx context.Context, url string, handler Handler) error {
	f.ConnectCalls++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.handler = handler
	return nil
}

func (f *Fake) Send(ctx context.Context, data []byte) error {
	if f.closed {
		return ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.Sent = append(f.Sent, cp)
	return nil
}

func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// InjectMessage delivers data to the handler registered by Connect, as
// if it arrived from the server.
func (f *Fake) InjectMessage(data []byte) {
	if f.handler.OnMessage != nil {
		f.handler.OnMessage(data)
	}
}

// InjectClose fires the handler's OnClose, as if the server or network
// ended the connection.
func (f *Fake) InjectClose(err error) {
	if f.handler.OnClose != nil {
		f.handler.OnClose(err)
	}
}
