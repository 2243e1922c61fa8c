// ABOUTME: Request routing for metadata lookups and file fetches
// ABOUTME: Responses are matched by request id; unknown ids are dropped
package session

import (
	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
	"github.com/Thalhammer/libspotify-embedded/pkg/protocol"
)

// MetadataFunc receives the result of RequestMetadata. Exactly one of md
// and err is non-nil.
type MetadataFunc func(md *protocol.ServerMetadata, err error)

// FetchSink receives the chunks of a Fetch in arrival order, then exactly
// one OnDone.
type FetchSink interface {
	OnChunk(offset uint32, data []byte)
	OnDone(err error)
}

// CancelFunc abandons a request. Responses that arrive afterwards are
// dropped and no callback runs.
type CancelFunc func()

type route struct {
	id   uint32
	meta MetadataFunc
	sink FetchSink
}

func (m *Manager) addRoute(r *route) CancelFunc {
	m.nextReq++
	r.id = m.nextReq
	m.routes[r.id] = r
	return func() {
		if cur, ok := m.routes[r.id]; ok && cur == r {
			delete(m.routes, r.id)
			if r.sink != nil && m.phase == phaseOnline {
				m.queue(protocol.TypeClientFetchCancel, protocol.ClientFetchCancel{ReqID: r.id})
			}
		}
	}
}

func (m *Manager) take(id uint32) *route {
	r, ok := m.routes[id]
	if !ok {
		m.log.Debug().Uint32("req_id", id).Msg("dropping response for unknown request")
		return nil
	}
	delete(m.routes, id)
	return r
}

// RequestMetadata resolves uri to its context on the access point.
func (m *Manager) RequestMetadata(uri string, fn MetadataFunc) (CancelFunc, error) {
	const op = "session.metadata"
	if uri == "" || fn == nil {
		return nil, errcode.New(errcode.InvalidArgument, op, "uri and callback required")
	}
	if m.phase != phaseOnline {
		return nil, errcode.New(errcode.Uninitialized, op, "not logged in")
	}
	r := &route{meta: fn}
	cancel := m.addRoute(r)
	m.queue(protocol.TypeClientMetadata, protocol.ClientMetadata{ReqID: r.id, URI: uri})
	return cancel, nil
}

// Fetch requests length bytes of fileID starting at offset.
func (m *Manager) Fetch(fileID string, offset, length uint32, sink FetchSink) (CancelFunc, error) {
	const op = "session.fetch"
	if fileID == "" || length == 0 || sink == nil {
		return nil, errcode.New(errcode.InvalidArgument, op, "file id, length and sink required")
	}
	if m.phase != phaseOnline {
		return nil, errcode.New(errcode.Uninitialized, op, "not logged in")
	}
	r := &route{sink: sink}
	cancel := m.addRoute(r)
	m.queue(protocol.TypeClientFetch, protocol.ClientFetch{ReqID: r.id, FileID: fileID, Offset: offset, Length: length})
	return cancel, nil
}

// Outstanding returns the number of requests awaiting a response.
func (m *Manager) Outstanding() int { return len(m.routes) }

func (m *Manager) deliverChunk(c protocol.ChunkData) {
	r, ok := m.routes[c.ReqID]
	if !ok || r.sink == nil {
		m.log.Debug().Uint32("req_id", c.ReqID).Msg("dropping chunk for unknown request")
		return
	}
	r.sink.OnChunk(c.Offset, c.Data)
}

func (m *Manager) completeMetadata(id uint32, md *protocol.ServerMetadata, err error) {
	r := m.take(id)
	if r == nil {
		return
	}
	if r.meta == nil {
		m.log.Warn().Uint32("req_id", id).Msg("metadata response for a fetch request")
		return
	}
	r.meta(md, err)
}

func (m *Manager) completeFetch(id uint32, err error) {
	r := m.take(id)
	if r == nil {
		return
	}
	if r.sink == nil {
		m.log.Warn().Uint32("req_id", id).Msg("fetch response for a metadata request")
		return
	}
	r.sink.OnDone(err)
}

// failRoutes fails every outstanding request once.
func (m *Manager) failRoutes(cause error) {
	if len(m.routes) == 0 {
		return
	}
	pending := m.routes
	m.routes = make(map[uint32]*route)
	err := &errcode.Error{Code: errcode.Failed, Op: "session.request", Err: cause}
	for _, r := range pending {
		if r.meta != nil {
			r.meta(nil, err)
		} else if r.sink != nil {
			r.sink.OnDone(err)
		}
	}
}
