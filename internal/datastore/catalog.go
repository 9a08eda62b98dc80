package datastore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ListAnimals returns the whole catalog ordered by id
func (ds *DataStore) ListAnimals(ctx context.Context) ([]Animal, error) {
	var animals []Animal
	if err := ds.db(ctx).Order("id").Find(&animals).Error; err != nil {
		return nil, dbError(err, "list-animals")
	}
	return animals, nil
}

// SaveAnimal creates or updates a catalog entry
func (ds *DataStore) SaveAnimal(ctx context.Context, animal *Animal) error {
	if err := ds.db(ctx).Save(animal).Error; err != nil {
		return dbError(err, "save-animal")
	}
	return nil
}

// GetDevice returns a registered device or ErrDeviceNotFound
func (ds *DataStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	var device Device
	err := ds.db(ctx).Where("id = ?", id).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(ErrDeviceNotFound, "device_id", id)
	}
	if err != nil {
		return nil, dbError(err, "get-device")
	}
	return &device, nil
}

// SaveDevice registers or updates a device
func (ds *DataStore) SaveDevice(ctx context.Context, device *Device) error {
	if err := ds.db(ctx).Save(device).Error; err != nil {
		return dbError(err, "save-device")
	}
	return nil
}

// MarkHeartbeat refreshes the device's last heartbeat and returns the
// updated device. Unknown devices are not created.
func (ds *DataStore) MarkHeartbeat(ctx context.Context, id string, at time.Time) (*Device, error) {
	device, err := ds.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ds.db(ctx).Model(&Device{}).Where("id = ?", id).Update("last_heartbeat", at).Error; err != nil {
		return nil, dbError(err, "mark-heartbeat")
	}
	device.LastHeartbeat = &at
	return device, nil
}
