package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

var btAdapter = bluetooth.DefaultAdapter

// BluetoothSource streams heart rate readings from a BLE monitor
// exposing the standard Heart Rate service (0x180D). The dispatcher may
// cycle it through Connect/Close repeatedly while reconnecting.
type BluetoothSource struct {
	cfg    config.BluetoothConfig
	logger *slog.Logger

	mu        sync.Mutex
	device    bluetooth.Device
	connected bool
	dropped   chan struct{}
	readings  chan domain.HeartRateEvent
}

func NewBluetooth(cfg config.BluetoothConfig, logger *slog.Logger) *BluetoothSource {
	return &BluetoothSource{
		cfg:      cfg,
		logger:   logger,
		readings: make(chan domain.HeartRateEvent, 16),
	}
}

func (b *BluetoothSource) Name() string { return "bluetooth" }

// Connect scans for a matching monitor, connects, and subscribes to
// heart rate measurement notifications.
func (b *BluetoothSource) Connect(ctx context.Context) error {
	if err := btAdapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	result, err := b.scan(ctx)
	if err != nil {
		return err
	}

	b.logger.Info("connecting to heart rate monitor",
		"address", result.Address.String(),
		"name", result.LocalName())

	dropped := make(chan struct{})
	btAdapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if !connected {
			select {
			case <-dropped:
			default:
				close(dropped)
			}
		}
	})

	device, err := btAdapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", domain.ErrDeviceNotFound, result.Address.String(), err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return fmt.Errorf("%w: heart rate service not found: %v", domain.ErrDeviceNotFound, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDHeartRateMeasurement})
	if err != nil || len(chars) == 0 {
		device.Disconnect()
		return fmt.Errorf("%w: heart rate measurement characteristic not found: %v", domain.ErrDeviceNotFound, err)
	}

	if err := chars[0].EnableNotifications(b.onMeasurement); err != nil {
		device.Disconnect()
		return fmt.Errorf("enable heart rate notifications: %w", err)
	}

	b.mu.Lock()
	b.device = device
	b.connected = true
	b.dropped = dropped
	b.mu.Unlock()

	b.logger.Info("heart rate monitor connected", "address", result.Address.String())
	return nil
}

func (b *BluetoothSource) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	timeout := b.cfg.ScanTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		err := btAdapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !b.matches(result) {
				return
			}
			adapter.StopScan()
			select {
			case found <- result:
			default:
			}
		})
		if err != nil {
			scanErr <- err
		}
	}()

	select {
	case result := <-found:
		return result, nil
	case err := <-scanErr:
		return bluetooth.ScanResult{}, fmt.Errorf("bluetooth scan: %w", err)
	case <-time.After(timeout):
		btAdapter.StopScan()
		return bluetooth.ScanResult{}, fmt.Errorf("%w: no monitor found within %s", domain.ErrDeviceNotFound, timeout)
	case <-ctx.Done():
		btAdapter.StopScan()
		return bluetooth.ScanResult{}, ctx.Err()
	}
}

func (b *BluetoothSource) matches(result bluetooth.ScanResult) bool {
	if b.cfg.DeviceAddress != "" {
		return strings.EqualFold(result.Address.String(), b.cfg.DeviceAddress)
	}
	if b.cfg.DeviceName != "" {
		return strings.EqualFold(result.LocalName(), b.cfg.DeviceName)
	}
	return result.HasServiceUUID(bluetooth.ServiceUUIDHeartRate)
}

func (b *BluetoothSource) onMeasurement(buf []byte) {
	bpm, err := ParseHeartRateMeasurement(buf)
	if err != nil {
		b.logger.Warn("discarding malformed measurement", "error", err)
		return
	}
	// Some monitors report 0 BPM while acquiring a signal.
	if bpm <= 0 {
		return
	}
	select {
	case b.readings <- domain.NewHeartRateEvent(bpm):
	default:
		b.logger.Warn("dropping reading, consumer lagging", "bpm", bpm)
	}
}

// Next blocks until a reading arrives, the monitor drops, or ctx is
// cancelled.
func (b *BluetoothSource) Next(ctx context.Context) (domain.HeartRateEvent, error) {
	b.mu.Lock()
	dropped := b.dropped
	b.mu.Unlock()

	select {
	case ev := <-b.readings:
		return ev, nil
	case <-dropped:
		return domain.HeartRateEvent{}, domain.ErrSourceDisconnected
	case <-ctx.Done():
		return domain.HeartRateEvent{}, ctx.Err()
	}
}

func (b *BluetoothSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	return b.device.Disconnect()
}

var _ domain.Source = (*BluetoothSource)(nil)
