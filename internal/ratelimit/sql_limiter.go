package ratelimit

import (
	"context"

	pkgdb "github.com/smallbiznis/karma/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLLimiter keeps trackers in karma_rate_limits so increments commit or roll
// back with the surrounding transaction.
type SQLLimiter struct {
	db *gorm.DB
}

func NewSQLLimiter(db *gorm.DB) *SQLLimiter {
	return &SQLLimiter{db: db}
}

func (l *SQLLimiter) Backend() string { return "sql" }

func (l *SQLLimiter) CheckAndConsume(ctx context.Context, tx *gorm.DB, principal string, action Action, karma int64, now int64) (Decision, error) {
	if action == "" {
		return Decision{}, ErrInvalidAction
	}
	limit := EffectiveLimit(action, karma)

	tracker, err := l.find(ctx, tx, principal, action, true)
	if err != nil {
		return Decision{}, err
	}
	if tracker == nil || windowExpired(tracker.WindowStart, now) {
		tracker = &Tracker{Principal: principal, ActionType: string(action), WindowStart: now}
	}

	if tracker.Count >= limit {
		return decide(action, tracker.Count, tracker.WindowStart, limit, false), nil
	}

	tracker.Count++
	tracker.LastAction = now
	err = tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal"}, {Name: "action_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"count", "window_start", "last_action"}),
	}).Create(tracker).Error
	if err != nil {
		return Decision{}, err
	}
	return decide(action, tracker.Count, tracker.WindowStart, limit, true), nil
}

func (l *SQLLimiter) Status(ctx context.Context, principal string, action Action, karma int64, now int64) (Decision, error) {
	if action == "" {
		return Decision{}, ErrInvalidAction
	}
	limit := EffectiveLimit(action, karma)

	tracker, err := l.find(ctx, l.db, principal, action, false)
	if err != nil {
		return Decision{}, err
	}
	if tracker == nil || windowExpired(tracker.WindowStart, now) {
		return decide(action, 0, now, limit, true), nil
	}
	return decide(action, tracker.Count, tracker.WindowStart, limit, tracker.Count < limit), nil
}

func (l *SQLLimiter) Activity(ctx context.Context, tx *gorm.DB, principal string, now int64) (Activity, error) {
	var trackers []Tracker
	err := tx.WithContext(ctx).Raw(
		`SELECT principal, action_type, count, window_start, last_action
		 FROM karma_rate_limits WHERE principal = ?`,
		principal,
	).Scan(&trackers).Error
	if err != nil {
		return Activity{}, err
	}
	return aggregate(trackers, now), nil
}

func (l *SQLLimiter) ActivePrincipalsSince(ctx context.Context, since int64, limit int) ([]string, error) {
	var principals []string
	err := l.db.WithContext(ctx).Raw(
		`SELECT principal FROM karma_rate_limits
		 WHERE window_start >= ?
		 GROUP BY principal
		 ORDER BY MAX(window_start) DESC, principal
		 LIMIT ?`,
		since, limit,
	).Scan(&principals).Error
	return principals, err
}

func (l *SQLLimiter) find(ctx context.Context, db *gorm.DB, principal string, action Action, forUpdate bool) (*Tracker, error) {
	query := `SELECT principal, action_type, count, window_start, last_action
		FROM karma_rate_limits WHERE principal = ? AND action_type = ? LIMIT 1`
	if forUpdate {
		query += pkgdb.ForUpdate(db)
	}

	var tracker Tracker
	if err := db.WithContext(ctx).Raw(query, principal, string(action)).Scan(&tracker).Error; err != nil {
		return nil, err
	}
	if tracker.Principal == "" {
		return nil, nil
	}
	return &tracker, nil
}

// aggregate sums the counts of windows still open at now and keeps the
// earliest of their starts. Expired windows are left out until the next
// action resets them. A principal with no open window reports one starting now.
func aggregate(trackers []Tracker, now int64) Activity {
	out := Activity{WindowStart: now}
	for _, t := range trackers {
		if windowExpired(t.WindowStart, now) {
			continue
		}
		out.Count += t.Count
		if t.WindowStart < out.WindowStart {
			out.WindowStart = t.WindowStart
		}
	}
	return out
}
