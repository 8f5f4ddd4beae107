package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// NewDevice is the input to RegisterDevice.
type NewDevice struct {
	Address  string
	Secret   string
	Name     string
	Location string
}

// RegisterDevice validates and persists a reader. The shared secret is stored hashed.
func (s *Service) RegisterDevice(ctx context.Context, nd NewDevice) (Device, error) {
	addr := NormalizeAddress(nd.Address)
	if addr == "" || nd.Secret == "" {
		return Device{}, errorf(KindInvalidArgument, "device address and secret are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(nd.Secret), bcrypt.DefaultCost)
	if err != nil {
		return Device{}, fmt.Errorf("hash device secret: %w", err)
	}
	dev, err := s.store.CreateDevice(ctx, Device{
		ID:         uuid.NewString(),
		Address:    addr,
		SecretHash: string(hash),
		Name:       nd.Name,
		Location:   nd.Location,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return Device{}, err
	}
	s.log.Info("device registered", "device", dev.Address, "name", dev.Name)
	return dev, nil
}

// AuthenticateDevice checks a reader's shared secret.
func (s *Service) AuthenticateDevice(ctx context.Context, address, secret string) (Device, error) {
	dev, err := s.store.DeviceByAddress(ctx, NormalizeAddress(address))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Device{}, errorf(KindUnauthorized, "invalid device credentials")
		}
		return Device{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(dev.SecretHash), []byte(secret)) != nil {
		return Device{}, errorf(KindUnauthorized, "invalid device credentials")
	}
	return dev, nil
}

// Heartbeat records reader liveness.
func (s *Service) Heartbeat(ctx context.Context, address string) (Device, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return Device{}, errorf(KindInvalidArgument, "device address is required")
	}
	dev, err := s.store.TouchHeartbeat(ctx, addr, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Device{}, errorf(KindNotFound, "device %s not found", addr)
		}
		return Device{}, err
	}
	return dev, nil
}

// ResolveDevice looks a reader up by address.
func (s *Service) ResolveDevice(ctx context.Context, address string) (Device, error) {
	return s.resolveDevice(ctx, NormalizeAddress(address))
}

func (s *Service) resolveDevice(ctx context.Context, addr string) (Device, error) {
	dev, err := s.store.DeviceByAddress(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Device{}, errorf(KindNotFound, "device %s not found", addr)
		}
		return Device{}, fmt.Errorf("resolve device: %w", err)
	}
	return dev, nil
}

// Devices lists registered readers, newest first.
func (s *Service) Devices(ctx context.Context) ([]Device, error) {
	return s.store.ListDevices(ctx)
}
