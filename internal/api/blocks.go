package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func createBlockHandler(svc Blocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}

		var req CreateBlockRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		professionalID, err := uuid.Parse(req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}

		roomID, err := parseOptionalUUID(req.RoomID, "room_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", err.Error())
			return
		}

		block, err := svc.CreateBlock(r.Context(), scheduling.BlockRequest{
			ProfessionalID: professionalID,
			RoomID:         roomID,
			StartAt:        req.StartAt,
			EndAt:          req.EndAt,
			Kind:           scheduling.BlockKind(req.Kind),
			Reason:         req.Reason,
			CreatedBy:      actor,
		})
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBlockResponse(block))
	}
}

func listBlocksHandler(svc Blocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			f   scheduling.BlockFilter
			err error
		)

		if f.ProfessionalID, err = queryUUID(r, "professional_id"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if f.RoomID, err = queryUUID(r, "room_id"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if f.From, err = queryTime(r, "from"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		if f.To, err = queryTime(r, "to"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}
		f.ActiveOnly = r.URL.Query().Get("active") == "true"

		blocks, err := svc.List(r.Context(), f)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		resp := make([]BlockResponse, 0, len(blocks))
		for i := range blocks {
			resp = append(resp, toBlockResponse(&blocks[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deactivateBlockHandler(svc Blocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_block_id", "id must be a valid UUID")
			return
		}
		if _, err := actorFromRequest(r); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}

		block, err := svc.DeactivateBlock(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toBlockResponse(block))
	}
}
