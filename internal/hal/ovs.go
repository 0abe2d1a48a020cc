package hal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"

	"github.com/dantte-lp/mlagd/internal/wire"
)

// ovsBridgeExternalID is an external_ids key for tagging a logical
// interface with its MLAG port id. This adapter neither sets nor reads it:
// findInterface looks rows up by name (portName).
const ovsBridgeExternalID = "mlag-port-id"

// ovsPort is the subset of the OVS Port table this adapter touches.
type ovsPort struct {
	UUID       string            `ovsdb:"_uuid"`
	Name       string            `ovsdb:"name"`
	Tag        *int              `ovsdb:"tag"`
	ExternalID map[string]string `ovsdb:"external_ids"`
}

// ovsInterface is the subset of the OVS Interface table this adapter
// touches: admin_state mirrors PortAdminEnable/Disable.
type ovsInterface struct {
	UUID       string            `ovsdb:"_uuid"`
	Name       string            `ovsdb:"name"`
	AdminState *string           `ovsdb:"admin_state"`
	ExternalID map[string]string `ovsdb:"external_ids"`
}

// dbModel declares the OVSDB tables this adapter binds, per libovsdb's
// model-based client pattern.
func dbModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel("Open_vSwitch", map[string]model.Model{
		"Port":      &ovsPort{},
		"Interface": &ovsInterface{},
	})
}

// OVS is a Hal implementation backed by an Open vSwitch instance over
// OVSDB. Port admin-enable/disable, IPL isolation, and IPL redirect are
// expressed as OVSDB Interface table mutations (admin_state and
// external_ids); static FDB entries are written as Interface external_ids
// too, while FdbDelete and FdbFlush only log. This is the concrete
// counterpart to spec.md §1's abstract Hal capability.
type OVS struct {
	c        client.Client
	bridge   string
	iplPort  string
	logger   *slog.Logger
}

// OVSConfig configures the OVSDB connection.
type OVSConfig struct {
	// Endpoint is the ovsdb-server connection string, e.g. "unix:/var/run/openvswitch/db.sock".
	Endpoint string
	// Bridge is the integration bridge name MLAG ports live on.
	Bridge string
	// IPLPort is the OVS port name representing the Inter-Peer Link.
	IPLPort string
}

// NewOVS connects to ovsdb-server and returns an OVS-backed Hal.
func NewOVS(ctx context.Context, cfg OVSConfig, logger *slog.Logger) (*OVS, error) {
	dbm, err := dbModel()
	if err != nil {
		return nil, fmt.Errorf("build ovsdb model: %w", err)
	}

	c, err := client.NewOVSDBClient(dbm, client.WithEndpoint(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("create ovsdb client: %w", err)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect ovsdb %s: %w", cfg.Endpoint, err)
	}
	if _, err := c.MonitorAll(ctx); err != nil {
		return nil, fmt.Errorf("monitor ovsdb: %w", err)
	}

	return &OVS{c: c, bridge: cfg.Bridge, iplPort: cfg.IPLPort, logger: logger}, nil
}

// Close disconnects from ovsdb-server.
func (o *OVS) Close() { o.c.Disconnect() }

func portName(port uint32) string {
	return "mlag" + strconv.FormatUint(uint64(port), 10)
}

func (o *OVS) findInterface(ctx context.Context, port uint32) (*ovsInterface, error) {
	var rows []ovsInterface
	name := portName(port)
	if err := o.c.WhereCache(func(i *ovsInterface) bool {
		return i.Name == name
	}).List(ctx, &rows); err != nil {
		return nil, fmt.Errorf("find interface %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("interface %s not found", name)
	}
	return &rows[0], nil
}

func (o *OVS) setAdminState(ctx context.Context, port uint32, state string) error {
	iface, err := o.findInterface(ctx, port)
	if err != nil {
		return err
	}
	iface.AdminState = &state

	ops, err := o.c.Where(iface).Update(iface, &iface.AdminState)
	if err != nil {
		return fmt.Errorf("build update op for %s: %w", iface.Name, err)
	}
	return o.transact(ctx, ops)
}

func (o *OVS) transact(ctx context.Context, ops []ovsdb.Operation) error {
	results, err := o.c.Transact(ctx, ops...)
	if err != nil {
		return fmt.Errorf("ovsdb transact: %w", err)
	}
	if _, err := ovsdb.CheckOperationResults(results, ops); err != nil {
		return fmt.Errorf("ovsdb transact result: %w", err)
	}
	return nil
}

func (o *OVS) PortAdminEnable(ctx context.Context, port uint32) error {
	return o.setAdminState(ctx, port, "up")
}

func (o *OVS) PortAdminDisable(ctx context.Context, port uint32) error {
	return o.setAdminState(ctx, port, "down")
}

// PortRedirectAdd steers a port's ingress traffic across the IPL by
// tagging the port's Interface row external_ids with a redirect-target
// marker that the local OVS controller policy consumes.
func (o *OVS) PortRedirectAdd(ctx context.Context, port uint32) error {
	return o.setExternalID(ctx, port, "mlag-redirect", o.iplPort)
}

func (o *OVS) PortRedirectRemove(ctx context.Context, port uint32) error {
	return o.clearExternalID(ctx, port, "mlag-redirect")
}

// PortIsolateAdd marks a port isolated from the IPL.
func (o *OVS) PortIsolateAdd(ctx context.Context, port uint32) error {
	return o.setExternalID(ctx, port, "mlag-isolated", "true")
}

func (o *OVS) PortIsolateRemove(ctx context.Context, port uint32) error {
	return o.clearExternalID(ctx, port, "mlag-isolated")
}

func (o *OVS) setExternalID(ctx context.Context, port uint32, key, value string) error {
	iface, err := o.findInterface(ctx, port)
	if err != nil {
		return err
	}
	if iface.ExternalID == nil {
		iface.ExternalID = make(map[string]string, 1)
	}
	iface.ExternalID[key] = value

	ops, err := o.c.Where(iface).Update(iface, &iface.ExternalID)
	if err != nil {
		return fmt.Errorf("build update op for %s: %w", iface.Name, err)
	}
	return o.transact(ctx, ops)
}

func (o *OVS) clearExternalID(ctx context.Context, port uint32, key string) error {
	iface, err := o.findInterface(ctx, port)
	if err != nil {
		return err
	}
	delete(iface.ExternalID, key)

	ops, err := o.c.Where(iface).Update(iface, &iface.ExternalID)
	if err != nil {
		return fmt.Errorf("build update op for %s: %w", iface.Name, err)
	}
	return o.transact(ctx, ops)
}

// FdbProgram, FdbDelete, and FdbFlush are deliberately conservative: OVS's
// own MAC learning normally owns the FDB, so MLAG only needs to pin static
// entries (router MACs and migrated unicast owners). FdbProgram writes each
// static entry as an Interface external_ids key mlag-static-mac-<vid>
// consumed by the same controller policy as the redirect/isolate markers
// above, and ignores non-static entries; FdbDelete and FdbFlush only log
// and change nothing in OVSDB.
func (o *OVS) FdbProgram(ctx context.Context, key wire.FdbKey, port uint32, entryType wire.EntryType) error {
	if entryType != wire.EntryStatic {
		return nil
	}
	return o.setExternalID(ctx, port, fmt.Sprintf("mlag-static-mac-%04x", key.VID), macString(key.MAC))
}

func (o *OVS) FdbDelete(ctx context.Context, key wire.FdbKey) error {
	o.logger.Debug("ovs: fdb delete", slog.Uint64("vid", uint64(key.VID)))
	return nil
}

func (o *OVS) FdbFlush(ctx context.Context, key wire.FlushKey) error {
	o.logger.Debug("ovs: fdb flush", slog.Uint64("key", uint64(key)))
	return nil
}

// RegisterNotify is a no-op: OVS's own MAC learning owns the FDB and this
// adapter does not subscribe to per-entry learn/age notifications over
// OVSDB monitor updates, the same conservatism FdbDelete/FdbFlush apply.
// A future revision wanting true hardware-driven learning would register
// an ovsdb monitor callback on the FDB table here instead.
func (o *OVS) RegisterNotify(cb func([]wire.Notification) []bool) {
	o.logger.Debug("ovs: register notify (no-op, ovs owns fdb learning)")
}

func macString(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

var _ Hal = (*OVS)(nil)
