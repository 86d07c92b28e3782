// internal/doors/doors.go
//
// Door name publishing.
//
// Context
// -------
// Controllers show a human-readable door name but only know their own
// identifier.  Every 15 minutes the application publishes the full
// identifier-to-name list as one retained JSON message, so a controller
// that (re)connects gets the current list immediately.
//
// The table is owned by the web application's migrations; this package
// only reads it.
package doors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zamhaus/doorcommander/internal/mqtt"
	"github.com/zamhaus/doorcommander/internal/tasks"
)

const (
	// Task is the schedule identifier of PublishNames.
	Task = "doors.tasks.publish_door_names"

	// NamesTopic receives the retained door list.
	NamesTopic = "door_commander/door_names"
)

// Door is one row of doors_door.
type Door struct {
	Name        string `db:"name" json:"name"`
	DisplayName string `db:"display_name" json:"display_name"`
}

const namesQuery = `SELECT name, display_name FROM doors_door ORDER BY name`

// Names returns every door ordered by name.
func Names(ctx context.Context, db *sqlx.DB) ([]Door, error) {
	var out []Door
	if err := db.SelectContext(ctx, &out, namesQuery); err != nil {
		return nil, fmt.Errorf("select doors: %w", err)
	}
	return out, nil
}

// PublishNames returns the task handler.
func PublishNames(db *sqlx.DB, pub mqtt.Publisher, log *zap.Logger) tasks.Handler {
	return func(ctx context.Context) error {
		ds, err := Names(ctx, db)
		if err != nil {
			return err
		}
		if ds == nil {
			ds = []Door{}
		}
		payload, err := json.Marshal(ds)
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, NamesTopic, true, payload); err != nil {
			return err
		}
		log.Debug("published door names", zap.Int("doors", len(ds)))
		return nil
	}
}
