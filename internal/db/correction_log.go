package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/monitoring"
)

// CorrectionEntry is one row of the correction log.
type CorrectionEntry struct {
	ID       int64     `json:"id"`
	Episode  string    `json:"episode"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason,omitempty"`
	MeanDist int16     `json:"mean_dist"`
	ZapTotal uint32    `json:"zap_total"`
	At       time.Time `json:"at"`
}

func (e *CorrectionEntry) String() string {
	return fmt.Sprintf("Episode: %s, Kind: %s, Reason: %s, MeanDist: %d, ZapTotal: %d, At: %s",
		e.Episode, e.Kind, e.Reason, e.MeanDist, e.ZapTotal, e.At.Format(time.RFC3339))
}

// RecordCorrection appends e to the log.
func (db *DB) RecordCorrection(ctx context.Context, e CorrectionEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO correction_log (episode, kind, reason, mean_dist, zap_total, at_unix) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Episode, e.Kind, e.Reason, e.MeanDist, e.ZapTotal, e.At.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record correction: %w", err)
	}
	return nil
}

// RecentCorrections returns up to limit entries, newest first.
func (db *DB) RecentCorrections(ctx context.Context, limit int) ([]CorrectionEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT log_id, episode, kind, reason, mean_dist, zap_total, at_unix
		FROM correction_log ORDER BY log_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CorrectionEntry
	for rows.Next() {
		var (
			e  CorrectionEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &e.Episode, &e.Kind, &e.Reason, &e.MeanDist, &e.ZapTotal, &at); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// correctionEntry maps a correction notification to a log row. ok is false
// for every other event.
func correctionEntry(ev events.Event, at time.Time) (CorrectionEntry, bool) {
	switch e := ev.(type) {
	case events.CorrectionStarted:
		kind := "started"
		if e.Resumed {
			kind = "resumed"
		}
		return CorrectionEntry{Episode: e.Episode, Kind: kind, MeanDist: e.MeanDist, At: at}, true
	case events.CorrectionPaused:
		return CorrectionEntry{Episode: e.Episode, Kind: "paused", Reason: e.Reason, MeanDist: e.MeanDist, At: at}, true
	case events.CorrectionEnded:
		return CorrectionEntry{Episode: e.Episode, Kind: "ended", Reason: e.Reason, At: at}, true
	case events.Zapped:
		return CorrectionEntry{Episode: e.Episode, Kind: "zapped", ZapTotal: e.Total, At: at}, true
	}
	return CorrectionEntry{}, false
}

// LogCorrections writes correction notifications from ch to the log until
// ch is closed or ctx is done. now stamps each row.
func (db *DB) LogCorrections(ctx context.Context, ch <-chan events.Event, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			entry, ok := correctionEntry(ev, now())
			if !ok {
				continue
			}
			if err := db.RecordCorrection(ctx, entry); err != nil {
				monitoring.Logf("correction log: %v", err)
			}
		}
	}
}
