package rtsp

import (
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransport(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    TransportSpec
		wantErr bool
	}{
		{
			name:   "unicast udp",
			header: "RTP/AVP;unicast;client_port=6000-6001",
			want:   TransportSpec{ClientRTP: 6000, ClientRTCP: 6001},
		},
		{
			name:   "udp profile spelled out",
			header: "RTP/AVP/UDP;unicast;client_port=7000-7001",
			want:   TransportSpec{ClientRTP: 7000, ClientRTCP: 7001},
		},
		{
			name:   "multicast",
			header: "RTP/AVP;multicast",
			want:   TransportSpec{Multicast: true},
		},
		{
			name:   "interleaved",
			header: "RTP/AVP/TCP;unicast;interleaved=2-3",
			want:   TransportSpec{Interleaved: true, Channel: 2, ChannelRTCP: 3},
		},
		{
			name:   "first servable alternative wins",
			header: "RTP/AVP;unicast,RTP/AVP/TCP;unicast;interleaved=0-1",
			want:   TransportSpec{Interleaved: true, Channel: 0, ChannelRTCP: 1},
		},
		{name: "unknown profile", header: "RAW/RAW/UDP;unicast", wantErr: true},
		{name: "unicast without ports", header: "RTP/AVP;unicast", wantErr: true},
		{name: "tcp without channels", header: "RTP/AVP/TCP;unicast", wantErr: true},
		{name: "multicast over tcp", header: "RTP/AVP/TCP;multicast;interleaved=0-1", wantErr: true},
		{name: "port out of range", header: "RTP/AVP;unicast;client_port=70000-70001", wantErr: true},
		{name: "channel out of range", header: "RTP/AVP/TCP;unicast;interleaved=300-301", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTransport(base.HeaderValue{tt.header})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadTransport)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseTransport(nil)
	assert.ErrorIs(t, err, ErrBadTransport)
}

func TestTransportReply(t *testing.T) {
	media := MediaConfig{MulticastAddress: "239.255.0.1", MulticastTTL: 64}

	tests := []struct {
		name  string
		spec  TransportSpec
		check func(t *testing.T, th headers.Transport)
	}{
		{
			name: "unicast",
			spec: TransportSpec{ClientRTP: 6000, ClientRTCP: 6001},
			check: func(t *testing.T, th headers.Transport) {
				assert.Equal(t, headers.TransportProtocolUDP, th.Protocol)
				require.NotNil(t, th.Delivery)
				assert.Equal(t, headers.TransportDeliveryUnicast, *th.Delivery)
				assert.Equal(t, &[2]int{6000, 6001}, th.ClientPorts)
				assert.Equal(t, &[2]int{5430, 5431}, th.ServerPorts)
			},
		},
		{
			name: "multicast",
			spec: TransportSpec{Multicast: true},
			check: func(t *testing.T, th headers.Transport) {
				require.NotNil(t, th.Delivery)
				assert.Equal(t, headers.TransportDeliveryMulticast, *th.Delivery)
				require.NotNil(t, th.Destination)
				assert.Equal(t, "239.255.0.1", th.Destination.String())
				assert.Equal(t, &[2]int{5430, 5431}, th.Ports)
				require.NotNil(t, th.TTL)
				assert.Equal(t, uint(64), *th.TTL)
			},
		},
		{
			name: "interleaved",
			spec: TransportSpec{Interleaved: true, Channel: 4, ChannelRTCP: 5},
			check: func(t *testing.T, th headers.Transport) {
				assert.Equal(t, headers.TransportProtocolTCP, th.Protocol)
				assert.Equal(t, &[2]int{4, 5}, th.InterleavedIDs)
				assert.Nil(t, th.ClientPorts)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var th headers.Transport
			require.NoError(t, th.Unmarshal(transportReply(tt.spec, media, 5430)))
			tt.check(t, th)
		})
	}
}

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator("admin", "secret")
	require.True(t, auth.Enabled())

	tests := []struct {
		name   string
		header base.HeaderValue
		want   bool
	}{
		{"valid", base.HeaderValue{"Basic YWRtaW46c2VjcmV0"}, true},
		{"wrong password", base.HeaderValue{"Basic YWRtaW46d3Jvbmc="}, false},
		{"wrong user", base.HeaderValue{"Basic cm9vdDpzZWNyZXQ="}, false},
		{"missing", nil, false},
		{"digest scheme", base.HeaderValue{`Digest username="admin"`}, false},
		{"not base64", base.HeaderValue{"Basic %%%"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.Check(tt.header))
		})
	}

	assert.Equal(t, base.HeaderValue{`Basic realm="rtspcast"`}, auth.Challenge())
}

func TestAuthenticatorDisabled(t *testing.T) {
	auth := NewAuthenticator("", "ignored")
	assert.False(t, auth.Enabled())
	assert.True(t, auth.Check(nil))

	var nilAuth *Authenticator
	assert.True(t, nilAuth.Check(base.HeaderValue{"anything"}))
}
