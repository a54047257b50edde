package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"fanzone/config"
	"fanzone/internal/realtime"
	"fanzone/internal/status"
	"fanzone/models"
	"fanzone/monitoring"
	"fanzone/utils"
)

const (
	qrTokenBytes      = 16
	transferCodeBytes = 3
	transferValidity  = 24 * time.Hour
	gateMetricsTTL    = 10 * time.Second
)

// PassService owns the pass state machine: issuance after payment, gate
// verification, token rotation and peer transfers. Pass state only ever
// moves forward; used and refunded are terminal.
type PassService struct {
	app         core.App
	cfg         *config.Config
	broadcaster realtime.Broadcaster
	redis       *redis.Client
	monitor     *monitoring.Monitor
}

func NewPassService(
	app core.App,
	cfg *config.Config,
	broadcaster realtime.Broadcaster,
	redisClient *redis.Client,
	monitor *monitoring.Monitor,
) *PassService {
	return &PassService{
		app:         app,
		cfg:         cfg,
		broadcaster: broadcaster,
		redis:       redisClient,
		monitor:     monitor,
	}
}

// IssuePassesForOrder mints one pass per seat of a paid order. Runs inside
// the caller's transaction. Calling it again for an order that already has
// passes issues nothing; raw tokens leave the store exactly once.
func (s *PassService) IssuePassesForOrder(txApp core.App, orderID string) ([]models.IssuedPass, error) {
	existing, err := txApp.FindRecordsByFilter(
		models.CollectionTicketPasses,
		"order = {:order}",
		"",
		0,
		0,
		dbx.Params{"order": orderID},
	)
	if err != nil {
		return nil, fmt.Errorf("find existing passes: %w", err)
	}
	if len(existing) > 0 {
		return nil, nil
	}

	items, err := txApp.FindRecordsByFilter(
		models.CollectionTicketOrderItems,
		"order = {:order}",
		"",
		0,
		0,
		dbx.Params{"order": orderID},
	)
	if err != nil {
		return nil, fmt.Errorf("find order items: %w", err)
	}

	collection, err := txApp.FindCollectionByNameOrId(models.CollectionTicketPasses)
	if err != nil {
		return nil, err
	}

	var issued []models.IssuedPass
	for _, item := range items {
		zone := item.GetString("zone")
		gate := ZoneGate(s.cfg, zone)
		for i := 0; i < item.GetInt("quantity"); i++ {
			token, err := utils.GenerateToken(qrTokenBytes)
			if err != nil {
				return nil, fmt.Errorf("generate pass token: %w", err)
			}

			pass := core.NewRecord(collection)
			pass.Set("order", orderID)
			pass.Set("zone", zone)
			pass.Set("gate", gate)
			pass.Set("state", string(models.PassActive))
			pass.Set("qr_token_hash", utils.HashToken(token))
			if err := txApp.Save(pass); err != nil {
				return nil, fmt.Errorf("save pass: %w", err)
			}

			issued = append(issued, models.IssuedPass{
				PassID: pass.Id,
				Zone:   zone,
				Gate:   gate,
				Token:  token,
			})
		}
	}
	return issued, nil
}

// VerifyResult is the steward-facing outcome of one scan.
type VerifyResult struct {
	Result models.ScanResult `json:"result"`
	PassID string            `json:"pass_id,omitempty"`
	Zone   string            `json:"zone,omitempty"`
	Gate   string            `json:"gate,omitempty"`
}

// VerifyPassToken resolves a presented QR token and, unless dryRun is set,
// consumes an active pass and appends a scan record. The state re-read and
// the active to used transition share one transaction so a pass admits at
// most once no matter how many gates scan it simultaneously.
func (s *PassService) VerifyPassToken(ctx context.Context, rawToken, stewardID string, dryRun bool) (*VerifyResult, error) {
	pass, err := s.app.FindFirstRecordByFilter(
		models.CollectionTicketPasses,
		"qr_token_hash = {:hash}",
		dbx.Params{"hash": utils.HashToken(rawToken)},
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find pass by token: %w", err)
		}
		s.trackScan("unknown", string(models.ScanNotFound))
		return &VerifyResult{Result: models.ScanNotFound}, nil
	}

	result := &VerifyResult{
		PassID: pass.Id,
		Zone:   pass.GetString("zone"),
		Gate:   pass.GetString("gate"),
	}

	if dryRun {
		switch models.PassState(pass.GetString("state")) {
		case models.PassActive:
			result.Result = models.ScanVerified
		case models.PassUsed:
			result.Result = models.ScanUsed
		default:
			result.Result = models.ScanRefunded
		}
		return result, nil
	}

	err = s.app.RunInTransaction(func(txApp core.App) error {
		fresh, err := txApp.FindRecordById(models.CollectionTicketPasses, pass.Id)
		if err != nil {
			return err
		}

		switch state := models.PassState(fresh.GetString("state")); state {
		case models.PassActive:
			fresh.Set("state", string(models.PassUsed))
			fresh.Set("consumed_at", types.NowDateTime())
			if err := txApp.Save(fresh); err != nil {
				return fmt.Errorf("consume pass: %w", err)
			}
			result.Result = models.ScanVerified
		case models.PassUsed:
			result.Result = models.ScanUsed
		default:
			result.Result = models.ScanRefunded
		}

		scans, err := txApp.FindCollectionByNameOrId(models.CollectionGateScans)
		if err != nil {
			return err
		}
		scan := core.NewRecord(scans)
		scan.Set("pass", fresh.Id)
		scan.Set("gate", fresh.GetString("gate"))
		scan.Set("steward_id", stewardID)
		scan.Set("result", string(result.Result))
		return txApp.Save(scan)
	})
	if err != nil {
		return nil, err
	}

	s.trackScan(result.Gate, string(result.Result))
	s.broadcaster.NotifyGateScan(ctx, realtime.GateScanEvent{
		PassID:    result.PassID,
		Result:    string(result.Result),
		Gate:      result.Gate,
		StewardID: stewardID,
	})
	s.publishGateMetrics(ctx, pass)

	return result, nil
}

// RotatePassToken replaces the QR token of an active pass. Only the current
// owner may rotate. The previous token dies immediately; the advertised
// validity tells clients when to refresh.
func (s *PassService) RotatePassToken(ctx context.Context, passID, userID string) (token string, validFor time.Duration, err error) {
	pass, err := s.app.FindRecordById(models.CollectionTicketPasses, passID)
	if err != nil {
		return "", 0, fmt.Errorf("find pass %s: %w", passID, err)
	}

	owner, err := s.passOwner(pass)
	if err != nil {
		return "", 0, err
	}
	if owner == "" || owner != userID {
		return "", 0, status.ErrNotPassOwner
	}
	if models.PassState(pass.GetString("state")) != models.PassActive {
		return "", 0, status.ErrPassNotActive
	}

	token, err = utils.GenerateToken(qrTokenBytes)
	if err != nil {
		return "", 0, fmt.Errorf("generate pass token: %w", err)
	}

	pass.Set("qr_token_hash", utils.HashToken(token))
	if err := s.app.Save(pass); err != nil {
		return "", 0, fmt.Errorf("rotate pass token: %w", err)
	}

	return token, s.cfg.RotationValidity, nil
}

// InitiateTransfer hands the owner a short code to pass along out of band.
// Only the code's bcrypt hash is stored. A non-empty recipient locks the
// transfer to that user up front.
func (s *PassService) InitiateTransfer(ctx context.Context, passID, ownerID, recipientID string) (string, error) {
	pass, err := s.app.FindRecordById(models.CollectionTicketPasses, passID)
	if err != nil {
		return "", fmt.Errorf("find pass %s: %w", passID, err)
	}

	owner, err := s.passOwner(pass)
	if err != nil {
		return "", err
	}
	if owner == "" || owner != ownerID {
		return "", status.ErrNotPassOwner
	}
	if models.PassState(pass.GetString("state")) != models.PassActive {
		return "", status.ErrPassNotActive
	}

	code, err := utils.GenerateCode(transferCodeBytes)
	if err != nil {
		return "", fmt.Errorf("generate transfer code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash transfer code: %w", err)
	}

	err = s.app.RunInTransaction(func(txApp core.App) error {
		if recipientID != "" {
			if err := ensureUser(txApp, recipientID); err != nil {
				return fmt.Errorf("ensure recipient: %w", err)
			}
			pass.Set("transferred_to", recipientID)
		}
		pass.Set("transfer_token_hash", string(hash))
		pass.Set("transfer_expires_at", time.Now().Add(transferValidity))
		return txApp.Save(pass)
	})
	if err != nil {
		return "", fmt.Errorf("save transfer: %w", err)
	}

	return code, nil
}

// ClaimTransfer completes a transfer. The claimed pass gets a fresh token so
// any copy the previous owner kept stops scanning.
func (s *PassService) ClaimTransfer(ctx context.Context, passID, code, claimantID string) (*models.IssuedPass, error) {
	pass, err := s.app.FindRecordById(models.CollectionTicketPasses, passID)
	if err != nil {
		return nil, fmt.Errorf("find pass %s: %w", passID, err)
	}

	hash := pass.GetString("transfer_token_hash")
	if hash == "" {
		return nil, status.ErrTransferCodeInvalid
	}
	if expires := pass.GetDateTime("transfer_expires_at").Time(); !expires.IsZero() && time.Now().After(expires) {
		return nil, status.ErrTransferExpired
	}
	if locked := pass.GetString("transferred_to"); locked != "" && pass.GetString("transferred_at") == "" && locked != claimantID {
		return nil, status.ErrTransferLocked
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		return nil, status.ErrTransferCodeInvalid
	}
	if models.PassState(pass.GetString("state")) != models.PassActive {
		return nil, status.ErrPassNotActive
	}

	token, err := utils.GenerateToken(qrTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate pass token: %w", err)
	}

	err = s.app.RunInTransaction(func(txApp core.App) error {
		if err := ensureUser(txApp, claimantID); err != nil {
			return fmt.Errorf("ensure claimant: %w", err)
		}

		fresh, err := txApp.FindRecordById(models.CollectionTicketPasses, pass.Id)
		if err != nil {
			return err
		}
		if fresh.GetString("transfer_token_hash") == "" {
			return status.ErrTransferCodeInvalid
		}

		fresh.Set("transferred_to", claimantID)
		fresh.Set("transferred_at", types.NowDateTime())
		fresh.Set("transfer_token_hash", "")
		fresh.Set("qr_token_hash", utils.HashToken(token))
		return txApp.Save(fresh)
	})
	if err != nil {
		return nil, err
	}

	return &models.IssuedPass{
		PassID: pass.Id,
		Zone:   pass.GetString("zone"),
		Gate:   pass.GetString("gate"),
		Token:  token,
	}, nil
}

// passOwner resolves the current holder: the claimant once a transfer
// completes, the purchasing user otherwise. A pending transfer lock does not
// change ownership.
func (s *PassService) passOwner(pass *core.Record) (string, error) {
	if pass.GetString("transferred_at") != "" {
		return pass.GetString("transferred_to"), nil
	}
	order, err := s.app.FindRecordById(models.CollectionTicketOrders, pass.GetString("order"))
	if err != nil {
		return "", fmt.Errorf("find pass order: %w", err)
	}
	return order.GetString("user"), nil
}

// ListActivePasses returns the passes a user can currently present.
func (s *PassService) ListActivePasses(userID string) ([]models.TicketPass, error) {
	records, err := s.app.FindRecordsByFilter(
		models.CollectionTicketPasses,
		"state = 'active' && ((transferred_at = '' && order.user = {:user}) || (transferred_at != '' && transferred_to = {:user}))",
		"-created",
		0,
		0,
		dbx.Params{"user": userID},
	)
	if err != nil {
		return nil, fmt.Errorf("list active passes: %w", err)
	}

	passes := make([]models.TicketPass, 0, len(records))
	for _, record := range records {
		passes = append(passes, recordToPass(record))
	}
	return passes, nil
}

// ListGateHistory returns recent scans for a match, newest first.
func (s *PassService) ListGateHistory(matchID string, limit int) ([]models.GateScan, error) {
	if limit <= 0 {
		limit = 100
	}
	records, err := s.app.FindRecordsByFilter(
		models.CollectionGateScans,
		"pass.order.match = {:match}",
		"-created",
		limit,
		0,
		dbx.Params{"match": matchID},
	)
	if err != nil {
		return nil, fmt.Errorf("list gate history: %w", err)
	}

	scans := make([]models.GateScan, 0, len(records))
	for _, record := range records {
		scans = append(scans, models.GateScan{
			ID:        record.Id,
			PassID:    record.GetString("pass"),
			Gate:      record.GetString("gate"),
			StewardID: record.GetString("steward_id"),
			Result:    models.ScanResult(record.GetString("result")),
			CreatedAt: record.GetDateTime("created").Time(),
		})
	}
	return scans, nil
}

// GateMetricsSnapshot aggregates scans per gate for a match. A short redis
// cache absorbs the scan bursts around kickoff.
func (s *PassService) GateMetricsSnapshot(ctx context.Context, matchID string) ([]models.GateMetrics, error) {
	cacheKey := "gate:metrics:" + matchID
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var metrics []models.GateMetrics
			if json.Unmarshal([]byte(cached), &metrics) == nil {
				return metrics, nil
			}
		}
	}

	var rows []struct {
		Gate     string `db:"gate"`
		Total    int    `db:"total"`
		Verified int    `db:"verified"`
	}
	err := s.app.DB().
		Select(
			"g.gate",
			"COUNT(*) AS total",
			"SUM(CASE WHEN [[g.result]] = 'verified' THEN 1 ELSE 0 END) AS verified",
		).
		From(models.CollectionGateScans+" g").
		InnerJoin(models.CollectionTicketPasses+" p", dbx.NewExp("[[p.id]] = [[g.pass]]")).
		InnerJoin(models.CollectionTicketOrders+" o", dbx.NewExp("[[o.id]] = [[p.order]]")).
		Where(dbx.HashExp{"o.match": matchID}).
		GroupBy("g.gate").
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("aggregate gate metrics: %w", err)
	}

	metrics := make([]models.GateMetrics, 0, len(rows))
	for _, row := range rows {
		metrics = append(metrics, models.GateMetrics{
			Gate:     row.Gate,
			Total:    row.Total,
			Verified: row.Verified,
			Rejected: row.Total - row.Verified,
		})
	}

	if s.redis != nil {
		if encoded, err := json.Marshal(metrics); err == nil {
			if err := s.redis.Set(ctx, cacheKey, encoded, gateMetricsTTL).Err(); err != nil {
				slog.Warn("gate metrics cache write failed", "error", err)
			}
		}
	}

	return metrics, nil
}

func (s *PassService) publishGateMetrics(ctx context.Context, pass *core.Record) {
	order, err := s.app.FindRecordById(models.CollectionTicketOrders, pass.GetString("order"))
	if err != nil {
		return
	}
	matchID := order.GetString("match")

	// Drop the cache so the snapshot reflects this scan.
	if s.redis != nil {
		s.redis.Del(ctx, "gate:metrics:"+matchID)
	}

	metrics, err := s.GateMetricsSnapshot(ctx, matchID)
	if err != nil {
		slog.Warn("gate metrics snapshot failed", "match", matchID, "error", err)
		return
	}
	s.broadcaster.NotifyGateMetricsSnapshot(ctx, realtime.GateMetricsEvent{
		MatchID: matchID,
		Metrics: metrics,
	})
}

func (s *PassService) trackScan(gate, result string) {
	if s.monitor != nil {
		s.monitor.TrackGateScan(gate, result)
	}
}

func recordToPass(record *core.Record) models.TicketPass {
	pass := models.TicketPass{
		ID:            record.Id,
		OrderID:       record.GetString("order"),
		Zone:          record.GetString("zone"),
		Gate:          record.GetString("gate"),
		State:         models.PassState(record.GetString("state")),
		TransferredTo: record.GetString("transferred_to"),
		UpdatedAt:     record.GetDateTime("updated").Time(),
	}
	if consumed := record.GetDateTime("consumed_at").Time(); !consumed.IsZero() {
		pass.ConsumedAt = &consumed
	}
	if transferred := record.GetDateTime("transferred_at").Time(); !transferred.IsZero() {
		pass.TransferredAt = &transferred
	}
	return pass
}
