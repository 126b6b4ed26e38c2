// Package audit records auth events published on the event bus and serves
// them back as a user's recent sign-in activity.
//
// Events are stored in a single `auth_events` table through database/sql.
// SQLite is the default; PostgreSQL is selected with `audit.driver: postgres`.
//
//	server := medtracker.New(
//		medtracker.WithPlugin(eventbus.Plugin(bus)),
//		medtracker.WithPlugin(audit.Plugin()),
//		medtracker.WithPlugin(auth.Plugin()),
//	)
package audit

import (
	"context"

	"github.com/medtracker/medtracker"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"github.com/medtracker/medtracker/plugins/auth"
	"github.com/medtracker/medtracker/plugins/eventbus"

	_ "github.com/lib/pq"           // Register postgres driver
	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver
)

// Constant name for identifying the audit plugin.
const PluginName = "audit"

func init() {
	medtracker.RegisterConfigKeys(
		medtracker.ConfigKeyInfo{
			Key:         "audit.driver",
			Description: "Database driver for the audit log: sqlite3 or postgres",
			Type:        "string",
			Default:     "sqlite3",
		},
		medtracker.ConfigKeyInfo{
			Key:         "audit.dsn",
			Description: "Connection string for the audit log database",
			Type:        "string",
			Default:     "file:medtracker_audit.s3db?_busy_timeout=5000",
			Secret:      true,
		},
	)
}

// Topics the plugin records.
var topics = []string{auth.LoginEvent, auth.LoginFailedEvent, auth.RefreshEvent, auth.LogoutEvent}

// AuditOption configures the audit plugin.
type AuditOption func(*AuditPlugin)

// WithStore uses an already opened store instead of connecting in Init.
func WithStore(s *Store) AuditOption {
	return func(p *AuditPlugin) {
		p.store = s
	}
}

// WithDatabase overrides the configured driver and connection string.
//
// Config keys: `audit.driver`, `audit.dsn`.
func WithDatabase(driver, dsn string) AuditOption {
	return func(p *AuditPlugin) {
		p.driver = driver
		p.dsn = dsn
	}
}

// Plugin returns a new AuditPlugin.
func Plugin(opts ...AuditOption) *AuditPlugin {
	p := &AuditPlugin{
		driver: medtracker.ConfigString("audit.driver"),
		dsn:    medtracker.ConfigString("audit.dsn"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuditPlugin subscribes to auth events and persists them.
type AuditPlugin struct {
	driver string
	dsn    string
	store  *Store
	bus    eventbus.EventBus
}

// From medtracker.Plugin.
func (p *AuditPlugin) Name() string {
	return PluginName
}

// From medtracker.DependentPlugin.
func (p *AuditPlugin) Deps() []string {
	return []string{eventbus.PluginName}
}

// From medtracker.InitializablePlugin.
func (p *AuditPlugin) Init(ctx context.Context, r *medtracker.Registry) error {
	bus, ok := r.Get(eventbus.PluginName).(*eventbus.EventBusPlugin)
	if !ok {
		return errors.New("audit: eventbus plugin has unexpected type")
	}
	if p.store == nil {
		s, err := Open(ctx, p.driver, p.dsn)
		if err != nil {
			return err
		}
		p.store = s
		logging.Infow(ctx, "audit: connected", "driver", p.driver)
	}
	p.bus = bus
	for _, topic := range topics {
		bus.Subscribe(topic, p.record)
	}
	return nil
}

// From medtracker.ShutdownPlugin.
func (p *AuditPlugin) Shutdown(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	// The bus shuts down after this plugin, so drain pending events first.
	if p.bus != nil {
		if err := p.bus.Wait(ctx); err != nil {
			logging.Warnw(ctx, "audit: pending events not recorded", "error", err)
		}
	}
	return p.store.Close()
}

// Recent returns the subject's latest auth events, newest first.
func (p *AuditPlugin) Recent(ctx context.Context, subject string, limit int) ([]auth.Event, error) {
	if p.store == nil {
		return []auth.Event{}, nil
	}
	return p.store.Recent(ctx, subject, limit)
}

func (p *AuditPlugin) record(ctx context.Context, msg *eventbus.Message) error {
	e, ok := msg.Data.(auth.Event)
	if !ok {
		return errors.Errorf("audit: unexpected payload %T on %s", msg.Data, msg.Topic)
	}
	return p.store.Record(ctx, e)
}
