package fleet

import (
	"context"

	"github.com/openfroyo/c2fleet/pkg/model"
	"github.com/openfroyo/c2fleet/pkg/stores"
)

// CreateDevice saves a new device.
func (s *Service) CreateDevice(ctx context.Context, device *model.Device) (*model.Device, error) {
	return create[model.Device](ctx, s, s.providers.Devices, stores.KindDevice, device)
}

// GetDevices returns every device.
func (s *Service) GetDevices(ctx context.Context) ([]*model.Device, error) {
	return list[model.Device](ctx, s, s.providers.Devices, stores.KindDevice)
}

// GetDevice looks up a device by identifier.
func (s *Service) GetDevice(ctx context.Context, id string) (*model.Device, bool, error) {
	return get[model.Device](ctx, s, s.providers.Devices, stores.KindDevice, id)
}

// UpdateDevice replaces an existing device, keeping the stored first-seen time.
func (s *Service) UpdateDevice(ctx context.Context, device *model.Device) (*model.Device, error) {
	return update[model.Device](ctx, s, s.providers.Devices, stores.KindDevice, device,
		func(d *model.Device) string { return d.Identifier },
		func(stored, incoming *model.Device) { incoming.FirstSeen = stored.FirstSeen })
}

// DeleteDevice removes a device and returns the removed value.
func (s *Service) DeleteDevice(ctx context.Context, id string) (*model.Device, error) {
	return remove[model.Device](ctx, s, s.providers.Devices, stores.KindDevice, id)
}
