package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kf6kjg/whip-lru/internal/asset"
	"github.com/kf6kjg/whip-lru/internal/protocol"
	"github.com/kf6kjg/whip-lru/internal/storagemgr"
)

// requiresNonZeroID reports the request types, per §8, whose UUID header
// field addresses the asset being operated on, so the reserved all-zero UUID
// is rejected.
// STATUS_GET ignores the field entirely and STORED_ASSET_IDS_GET treats it
// as a 3-hex-char prefix, so an all-zero value is meaningful for both and is
// not rejected here.
func requiresNonZeroID(t protocol.RequestType) bool {
	switch t {
	case protocol.ReqGet, protocol.ReqGetDontCache, protocol.ReqPut, protocol.ReqPurge, protocol.ReqTest:
		return true
	default:
		return false
	}
}

// process dispatches one decoded request frame to the StorageManager and
// builds the response frame, implementing the request-type table in §6.
func (s *Server) process(ctx context.Context, req *protocol.Frame) *protocol.Frame {
	reqType := protocol.RequestType(req.Type)

	if requiresNonZeroID(reqType) && req.ID == uuid.Nil {
		return errorResponse(req.ID, "Zero UUID not allowed.")
	}

	switch reqType {
	case protocol.ReqGet:
		return s.handleGet(ctx, req, true)
	case protocol.ReqGetDontCache:
		return s.handleGet(ctx, req, false)
	case protocol.ReqPut:
		return s.handlePut(ctx, req)
	case protocol.ReqPurge:
		return s.handlePurge(ctx, req)
	case protocol.ReqTest:
		return s.handleTest(ctx, req)
	case protocol.ReqMaintPurgeLocals:
		return s.handleMaintPurgeLocals(req)
	case protocol.ReqStatusGet:
		return s.handleStatusGet(req)
	case protocol.ReqStoredAssetIDsGet:
		return s.handleStoredAssetIDsGet(req)
	default:
		return errorResponse(req.ID, "unknown request type")
	}
}

func okResponse(id uuid.UUID, body []byte) *protocol.Frame {
	return &protocol.Frame{Type: byte(protocol.RCOK), ID: id, Body: body}
}

func foundResponse(id uuid.UUID, body []byte) *protocol.Frame {
	return &protocol.Frame{Type: byte(protocol.RCFound), ID: id, Body: body}
}

func notFoundResponse(id uuid.UUID) *protocol.Frame {
	return &protocol.Frame{Type: byte(protocol.RCNotFound), ID: id}
}

func errorResponse(id uuid.UUID, msg string) *protocol.Frame {
	return &protocol.Frame{Type: byte(protocol.RCError), ID: id, Body: []byte(msg)}
}

func (s *Server) handleGet(ctx context.Context, req *protocol.Frame, cacheResult bool) *protocol.Frame {
	a, err := s.cfg.Manager.GetAsset(ctx, req.ID, cacheResult)
	if err != nil {
		if err == storagemgr.ErrNotFound {
			return notFoundResponse(req.ID)
		}
		return errorResponse(req.ID, err.Error())
	}
	wire, err := asset.EncodeWire(a)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return foundResponse(req.ID, wire)
}

func (s *Server) handlePut(ctx context.Context, req *protocol.Frame) *protocol.Frame {
	a, err := asset.DecodeWire(req.Body)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	err = s.cfg.Manager.StoreAsset(ctx, a)
	if err == storagemgr.ErrDuplicate {
		return errorResponse(req.ID, "Duplicate assets are not allowed.")
	}
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return okResponse(req.ID, nil)
}

func (s *Server) handlePurge(ctx context.Context, req *protocol.Frame) *protocol.Frame {
	err := s.cfg.Manager.PurgeAsset(ctx, req.ID)
	if err != nil {
		if err == storagemgr.ErrNotFound {
			return notFoundResponse(req.ID)
		}
		return errorResponse(req.ID, err.Error())
	}
	return okResponse(req.ID, nil)
}

func (s *Server) handleTest(ctx context.Context, req *protocol.Frame) *protocol.Frame {
	found, err := s.cfg.Manager.CheckAsset(ctx, req.ID)
	if err != nil {
		return errorResponse(req.ID, err.Error())
	}
	if found {
		return foundResponse(req.ID, nil)
	}
	return notFoundResponse(req.ID)
}

func (s *Server) handleMaintPurgeLocals(req *protocol.Frame) *protocol.Frame {
	if err := s.cfg.Manager.PurgeAllLocalAssets(); err != nil {
		return errorResponse(req.ID, err.Error())
	}
	return okResponse(req.ID, nil)
}

func (s *Server) handleStatusGet(req *protocol.Frame) *protocol.Frame {
	stats := s.cfg.Manager.Stats()
	active := s.ActiveConnections()
	body := fmt.Sprintf(
		"STATUS: %s\nACTIVE_CONNECTIONS: %d\nCACHE_ITEMS: %d\nCACHE_BYTES: %d\nCACHE_HITS: %d\nCACHE_MISSES: %d\nJOURNAL_OCCUPIED_SLOTS: %d\n",
		"ACTIVE", active, stats.ItemCount, stats.TotalBytes, stats.Hits, stats.Misses, stats.JournalOccupied,
	)
	return okResponse(req.ID, []byte(body))
}

func (s *Server) handleStoredAssetIDsGet(req *protocol.Frame) *protocol.Frame {
	prefix := asset.ToHex32(req.ID)[:3]
	ids := s.cfg.Manager.LocallyKnownIDs(prefix)
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = asset.ToHex32(id)
	}
	return okResponse(req.ID, []byte(strings.Join(hexIDs, ",")))
}
