package models

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MicroUnitsPerUnit is the number of micro-units in one unit of the native currency.
const MicroUnitsPerUnit uint64 = 1_000_000

const checksumLen = 4

var addrEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var ErrInvalidAddress = errors.New("invalid address")

// Address is a 32-byte account identity. Its text form is base32 of the key
// followed by a 4-byte SHA-512/256 checksum.
type Address [32]byte

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	sum := sha512.Sum512_256(a[:])
	buf := make([]byte, 0, len(a)+checksumLen)
	buf = append(buf, a[:]...)
	buf = append(buf, sum[len(sum)-checksumLen:]...)
	return addrEncoding.EncodeToString(buf)
}

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes the text form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := addrEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != len(a)+checksumLen {
		return a, fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(raw))
	}
	copy(a[:], raw[:len(a)])
	sum := sha512.Sum512_256(a[:])
	if !bytes.Equal(sum[len(sum)-checksumLen:], raw[len(a):]) {
		return Address{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return a, nil
}

// AddressFromSeed derives a deterministic address from an arbitrary label.
// Used by dev tooling and tests.
func AddressFromSeed(seed string) Address {
	return Address(sha512.Sum512_256([]byte(seed)))
}

// AppAddress is the escrow account controlled by the application with the given id.
func AppAddress(appID uint64) Address {
	buf := make([]byte, 0, 5+8)
	buf = append(buf, "appID"...)
	buf = binary.BigEndian.AppendUint64(buf, appID)
	return Address(sha512.Sum512_256(buf))
}

// Payment is a native-currency transfer between two accounts.
type Payment struct {
	Sender   Address `json:"sender"`
	Receiver Address `json:"receiver"`
	Amount   uint64  `json:"amount"`
}

type EventType string

const (
	EventRideCreated      EventType = "ride_created"
	EventRideJoined       EventType = "ride_joined"
	EventBookingCancelled EventType = "booking_cancelled"
	EventRideCompleted    EventType = "ride_completed"
	EventRideCancelled    EventType = "ride_cancelled"
)

// Event describes a committed escrow transition and the payments it issued.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	AppID    uint64    `json:"app_id"`
	RideID   uint64    `json:"ride_id"`
	Actor    Address   `json:"actor"`
	Driver   Address   `json:"driver"`
	Riders   []Address `json:"riders,omitempty"`
	Payments []Payment `json:"payments,omitempty"`
	At       time.Time `json:"at"`
}

// Participants returns the driver, the actor and every rider, deduplicated.
func (e Event) Participants() []Address {
	seen := make(map[Address]struct{}, len(e.Riders)+2)
	out := make([]Address, 0, len(e.Riders)+2)
	add := func(a Address) {
		if a.IsZero() {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	add(e.Driver)
	add(e.Actor)
	for _, r := range e.Riders {
		add(r)
	}
	return out
}

// ResolveAddress accepts either the text form of an address or "seed:<label>"
// for the deterministic development accounts derived by AddressFromSeed.
func ResolveAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if label, ok := strings.CutPrefix(s, "seed:"); ok {
		if label == "" {
			return Address{}, fmt.Errorf("%w: empty seed label", ErrInvalidAddress)
		}
		return AddressFromSeed(label), nil
	}
	return ParseAddress(s)
}
