package rtp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

// Stream labels used when deriving SSRCs.
const (
	LabelVideo     = "video"
	LabelAudio     = "audio"
	LabelSubtitles = "subtitles"
)

// HardwareID returns the hardware address of the first non-loopback
// interface. When no interface carries one, a random identity is generated
// so the server can still start; SSRCs are then stable only for the process
// lifetime.
func HardwareID() []byte {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function":  "HardwareID",
				"interface": iface.Name,
				"mac":       iface.HardwareAddr.String(),
			}).Debug("Using interface hardware address as stream identity")
			return []byte(iface.HardwareAddr)
		}
	}

	id := make([]byte, 6)
	if _, rerr := rand.Read(id); rerr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "HardwareID",
			"error":    rerr.Error(),
		}).Error("Failed to generate random identity")
	}
	logrus.WithFields(logrus.Fields{
		"function": "HardwareID",
	}).Warn("No hardware address found, using random stream identity")
	return id
}

// DeriveSSRC expands a hardware identity into a per-stream SSRC with
// HKDF-SHA256, using the stream label as the info parameter.
//
// Parameters:
//   - identity: Stable hardware identity (usually a MAC address)
//   - label: Stream label, one of LabelVideo, LabelAudio, LabelSubtitles
//
// Returns:
//   - uint32: Derived SSRC
//   - error: Any error from the key derivation
func DeriveSSRC(identity []byte, label string) (uint32, error) {
	if len(identity) == 0 {
		return 0, fmt.Errorf("identity cannot be empty")
	}

	reader := hkdf.New(sha256.New, identity, nil, []byte("rtspcast-ssrc-"+label))
	var out [4]byte
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return 0, fmt.Errorf("derive ssrc for %s: %w", label, err)
	}
	return binary.BigEndian.Uint32(out[:]), nil
}

// SSRCSet holds the SSRCs of the three outbound streams.
type SSRCSet struct {
	Video     uint32
	Audio     uint32
	Subtitles uint32
}

// DeriveSSRCSet derives all outbound SSRCs from one identity.
func DeriveSSRCSet(identity []byte) (SSRCSet, error) {
	var set SSRCSet
	var err error
	if set.Video, err = DeriveSSRC(identity, LabelVideo); err != nil {
		return SSRCSet{}, err
	}
	if set.Audio, err = DeriveSSRC(identity, LabelAudio); err != nil {
		return SSRCSet{}, err
	}
	if set.Subtitles, err = DeriveSSRC(identity, LabelSubtitles); err != nil {
		return SSRCSet{}, err
	}
	return set, nil
}
