// Package pcap turns captured network packets into feature vectors.
package pcap

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	taosio "github.com/hed1ad/taosad/pkg/io"
)

const (
	snaplen       = 65535
	defaultBuffer = 1000
)

var errNotInitialized = errors.New("reader not initialized")

// Option configures a Reader.
type Option func(*Reader)

// WithLimit stops reading after n packets. Zero reads until the source ends.
func WithLimit(n int) Option {
	return func(r *Reader) {
		r.limit = n
	}
}

// WithBuffer sets the capacity of the channel returned by Stream.
func WithBuffer(n int) Option {
	return func(r *Reader) {
		r.buffer = n
	}
}

// WithLogger sets the logger used for decode diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reader) {
		r.log = l
	}
}

// Reader yields one feature vector per captured packet.
type Reader struct {
	source    *gopacket.PacketSource
	closer    func()
	closeOnce sync.Once
	extractor *FeatureExtractor

	limit  int
	buffer int
	log    logrus.FieldLogger

	packets     int
	undecodable int
}

var _ taosio.Reader = (*Reader)(nil)

// NewReader reads packets from src and decodes them starting at the link
// layer given by decoder.
func NewReader(src gopacket.PacketDataSource, decoder gopacket.Decoder, opts ...Option) *Reader {
	r := &Reader{
		source:    gopacket.NewPacketSource(src, decoder),
		extractor: NewFeatureExtractor(),
		buffer:    defaultBuffer,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFileReader opens a capture file in the classic pcap format.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pcap file: %s", filename)
	}
	src, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "invalid pcap file: %s", filename)
	}

	r := NewReader(src, src.LinkType(), opts...)
	r.closer = func() { f.Close() }
	return r, nil
}

// NewLiveReader captures from a network interface. A non-empty filter is
// compiled as a BPF expression. Close stops a capture that is blocked
// waiting for traffic.
func NewLiveReader(iface, filter string, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, true, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open interface: %s", iface)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, "invalid capture filter: %q", filter)
		}
	}

	r := NewReader(handle, handle.LinkType(), opts...)
	r.closer = handle.Close
	return r, nil
}

// next returns the features of the next packet, or io.EOF once the source
// or the limit is exhausted.
func (r *Reader) next() ([]float64, error) {
	if r.source == nil {
		return nil, errNotInitialized
	}
	if r.limit > 0 && r.packets >= r.limit {
		return nil, io.EOF
	}

	packet, err := r.source.NextPacket()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read packet %d", r.packets)
	}

	if errLayer := packet.ErrorLayer(); errLayer != nil {
		r.undecodable++
		r.log.WithError(errLayer.Error()).WithField("packet", r.packets).Debug("partially decoded packet")
	}
	r.packets++
	return r.extractor.ExtractPacket(packet), nil
}

// Read returns the features of every remaining packet.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64
	for {
		features, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data = append(data, features)
	}

	r.log.WithFields(logrus.Fields{
		"packets":     r.packets,
		"undecodable": r.undecodable,
	}).Debug("pcap read complete")
	return data, nil
}

// Stream delivers packet features on a channel that is closed when the
// source ends, the limit is reached or ctx is done.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	if r.source == nil {
		return nil, errNotInitialized
	}

	out := make(chan []float64, r.buffer)
	go func() {
		defer close(out)
		for {
			features, err := r.next()
			if err != nil {
				if err != io.EOF {
					r.log.WithError(err).Warn("packet stream stopped")
				}
				return
			}
			select {
			case out <- features:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Packets returns the number of packets delivered so far.
func (r *Reader) Packets() int {
	return r.packets
}

// Close releases the capture source. It is safe to call from another
// goroutine while Read or Stream is running.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		if r.closer != nil {
			r.closer()
		}
	})
	return nil
}

// FeatureNames returns the names of the extracted packet features.
func (r *Reader) FeatureNames() []string {
	return r.extractor.FeatureNames()
}

// Packet feature positions.
const (
	featPacketSize = iota
	featInterArrival
	featProtocol
	featSrcPort
	featDstPort
	featTCPFlags
	featTTL
	featPayloadSize
	numFeatures
)

var featureNames = [numFeatures]string{
	featPacketSize:   "packet_size",
	featInterArrival: "inter_arrival_time",
	featProtocol:     "protocol",
	featSrcPort:      "src_port",
	featDstPort:      "dst_port",
	featTCPFlags:     "tcp_flags",
	featTTL:          "ip_ttl",
	featPayloadSize:  "payload_size",
}

// FeatureExtractor maps packets to fixed-width feature vectors. It keeps the
// previous timestamp, so one extractor serves one capture in order.
type FeatureExtractor struct {
	last time.Time
}

var _ taosio.FeatureExtractor = (*FeatureExtractor)(nil)

// NewFeatureExtractor creates a packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract converts a gopacket.Packet to a feature vector.
func (e *FeatureExtractor) Extract(data any) ([]float64, error) {
	packet, ok := data.(gopacket.Packet)
	if !ok {
		return nil, errors.Errorf("unsupported input type %T, want gopacket.Packet", data)
	}
	return e.ExtractPacket(packet), nil
}

// ExtractPacket converts a packet to a feature vector laid out as
// FeatureNames. Protocol is the IP protocol number and ip_ttl holds the IPv6
// hop limit for IPv6 packets. Absent layers leave their features at zero.
func (e *FeatureExtractor) ExtractPacket(packet gopacket.Packet) []float64 {
	f := make([]float64, numFeatures)
	f[featPacketSize] = float64(len(packet.Data()))

	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		if !e.last.IsZero() {
			f[featInterArrival] = md.Timestamp.Sub(e.last).Seconds()
		}
		e.last = md.Timestamp
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		f[featProtocol] = float64(ip.Protocol)
		f[featTTL] = float64(ip.TTL)
	case *layers.IPv6:
		f[featProtocol] = float64(ip.NextHeader)
		f[featTTL] = float64(ip.HopLimit)
	}

	switch t := packet.TransportLayer().(type) {
	case *layers.TCP:
		f[featSrcPort] = float64(t.SrcPort)
		f[featDstPort] = float64(t.DstPort)
		f[featTCPFlags] = tcpFlags(t)
	case *layers.UDP:
		f[featSrcPort] = float64(t.SrcPort)
		f[featDstPort] = float64(t.DstPort)
	}

	if app := packet.ApplicationLayer(); app != nil {
		f[featPayloadSize] = float64(len(app.Payload()))
	}
	return f
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return append([]string(nil), featureNames[:]...)
}

// tcpFlags packs SYN, ACK, FIN, RST, PSH and URG into bits 0 to 5.
func tcpFlags(tcp *layers.TCP) float64 {
	var bits uint8
	for i, set := range []bool{tcp.SYN, tcp.ACK, tcp.FIN, tcp.RST, tcp.PSH, tcp.URG} {
		if set {
			bits |= 1 << i
		}
	}
	return float64(bits)
}
