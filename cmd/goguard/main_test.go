package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/taosad/pkg/config"
	"github.com/hed1ad/taosad/pkg/detectors"
	"github.com/hed1ad/taosad/pkg/detectors/hbos"
	"github.com/hed1ad/taosad/pkg/io/csv"
)

// writeLabeledCSV writes 200 inliers around the origin and 5 distant
// outliers labeled 1.
func writeLabeledCSV(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewSource(1))

	var b strings.Builder
	b.WriteString("id,x,y,label\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "%d,%f,%f,0\n", i, rng.NormFloat64(), rng.NormFloat64())
	}
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "%d,%f,%f,1\n", 200+i, 12+rng.Float64(), -12-rng.Float64())
	}

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, name)
	assert.Contains(t, out, version)
}

func TestScoreCmd(t *testing.T) {
	input := writeLabeledCSV(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")
	model := filepath.Join(dir, "model.gob")

	_, err := run(t, "score",
		"--input", input,
		"--skip-columns", "id,label",
		"--algorithm", "hbos",
		"--output", output,
		"--save-model", model,
	)
	require.NoError(t, err)

	b, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 206)
	assert.Equal(t, "index,score,is_anomaly,label,probability", lines[0])
	for _, line := range lines[201:] {
		assert.Contains(t, line, ",true,-1,", line)
	}

	saved, err := os.ReadFile(model)
	require.NoError(t, err)
	h, err := hbos.New()
	require.NoError(t, err)
	require.NoError(t, h.Load(saved))
	calib, err := h.Calibration()
	require.NoError(t, err)
	assert.Len(t, calib.Scores, 205)
}

func TestScoreCmdErrors(t *testing.T) {
	input := writeLabeledCSV(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no input", args: []string{"score"}},
		{name: "unknown algorithm", args: []string{"score", "--input", input, "--algorithm", "lof"}},
		{name: "missing config", args: []string{"score", "--input", input, "--config", "missing.yaml"}},
		{name: "driver without table", args: []string{"score", "--driver", "sqlite", "--dsn", ":memory:"}},
		{name: "model not persistable", args: []string{"score", "--input", input, "--skip-columns", "id,label",
			"--algorithm", "cblof", "--save-model", filepath.Join(t.TempDir(), "m")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestEvaluateCmd(t *testing.T) {
	input := writeLabeledCSV(t)

	out, err := run(t, "evaluate",
		"--input", input,
		"--label-column", "label",
		"--skip-columns", "id",
		"--algorithms", "hbos,iforest",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "ALGORITHM")
	assert.Contains(t, out, "hbos")
	assert.Contains(t, out, "iforest")

	_, err = run(t, "evaluate", "--input", input)
	assert.Error(t, err)
}

func TestEvaluateAll(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var (
		data  [][]float64
		truth []int
	)
	for i := 0; i < 150; i++ {
		data = append(data, []float64{rng.NormFloat64(), rng.NormFloat64()})
		truth = append(truth, detectors.Inlier)
	}
	for i := 0; i < 5; i++ {
		data = append(data, []float64{15 + rng.Float64(), 15 + rng.Float64()})
		truth = append(truth, detectors.Outlier)
	}

	cfg := config.Default()
	cfg.Jobs = 3
	cfg.CBLOF.Clusters = 3
	results, err := evaluateAll(context.Background(), cfg, config.Algorithms, data, truth)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, config.Algorithms[i], r.Algorithm)
		assert.Equal(t, 5, r.Report.Outliers)
		assert.Greater(t, r.Report.ROCAUC, 0.9, r.Algorithm)
	}

	var buf bytes.Buffer
	require.NoError(t, printEvaluations(&buf, results))
	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))

	_, err = evaluateAll(context.Background(), cfg, []string{"lof"}, data, truth)
	assert.Error(t, err)
}

// writeCapture writes n UDP packets, 5ms apart, with varying payload sizes
// to a pcap file. Every tenth packet is an oversized burst.
func writeCapture(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	rng := rand.New(rand.NewSource(8))
	start := time.Unix(1700000000, 0)
	for i := 0; i < n; i++ {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
		udp := &layers.UDP{SrcPort: layers.UDPPort(40000 + rng.Intn(1000)), DstPort: 9999}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		size := 20 + rng.Intn(40)
		if i%10 == 9 {
			size = 1200
		}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(make([]byte, size))))

		ts := start.Add(time.Duration(i*5) * time.Millisecond)
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}, buf.Bytes()))
	}
	return path
}

func TestWatchCmd(t *testing.T) {
	capture := writeCapture(t, 40)
	dir := t.TempDir()
	model := filepath.Join(dir, "model.gob")
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("contamination: 0.2\n"), 0600))

	_, err := run(t, "score",
		"--pcap", capture,
		"--config", cfg,
		"--algorithm", "hbos",
		"--output", filepath.Join(dir, "fit.csv"),
		"--save-model", model,
	)
	require.NoError(t, err)

	tests := []struct {
		name  string
		args  []string
		lines int
	}{
		{name: "whole capture", lines: 41},
		{name: "limited", args: []string{"--limit", "15"}, lines: 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"watch", "--model", model, "--pcap", capture}, tt.args...)...)
			require.NoError(t, err)

			lines := strings.Split(strings.TrimSpace(out), "\n")
			require.Len(t, lines, tt.lines)
			assert.Equal(t, "index,score,is_anomaly,label,probability", lines[0])
			assert.True(t, strings.HasPrefix(lines[1], "0,"))
		})
	}

	t.Run("bursts are anomalous", func(t *testing.T) {
		out, err := run(t, "watch", "--model", model, "--pcap", capture)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		for i := 10; i <= 40; i += 10 {
			assert.Contains(t, lines[i], ",true,-1,", "packet %d", i-1)
		}
	})
}

func TestWatchCmdErrors(t *testing.T) {
	capture := writeCapture(t, 5)
	dir := t.TempDir()
	model := filepath.Join(dir, "model.gob")
	_, err := run(t, "score", "--pcap", capture, "--output", filepath.Join(dir, "fit.csv"), "--save-model", model)
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no model", args: []string{"watch", "--pcap", capture}},
		{name: "missing model file", args: []string{"watch", "--model", filepath.Join(dir, "none.gob"), "--pcap", capture}},
		{name: "not persistable", args: []string{"watch", "--algorithm", "cblof", "--model", model, "--pcap", capture}},
		{name: "wrong model kind", args: []string{"watch", "--algorithm", "iforest", "--model", model, "--pcap", capture}},
		{name: "no source", args: []string{"watch", "--model", model}},
		{name: "missing capture", args: []string{"watch", "--model", model, "--pcap", filepath.Join(dir, "none.pcap")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestWatchScoresAgainstFitThreshold(t *testing.T) {
	h, err := hbos.New(hbos.WithContamination(0.1))
	require.NoError(t, err)
	// values 0..4 with falling counts plus a single 9; bins 5 to 8 stay empty
	var train [][]float64
	for v, count := range []int{30, 25, 20, 15, 10} {
		for i := 0; i < count; i++ {
			train = append(train, []float64{float64(v)})
		}
	}
	train = append(train, []float64{9})
	require.NoError(t, h.Fit(train))

	r := &sliceReader{rows: [][]float64{{0}, {500}, {1, 2}, {1}}}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	n, err := watch(context.Background(), h, r, w)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 3, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], ",true,-1,")
	assert.Contains(t, lines[1], ",false,1,")
}

// sliceReader streams preset rows.
type sliceReader struct {
	rows [][]float64
}

func (r *sliceReader) Read() ([][]float64, error) { return r.rows, nil }

func (r *sliceReader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, len(r.rows))
	for _, row := range r.rows {
		out <- row
	}
	close(out)
	return out, nil
}

func (r *sliceReader) Close() error { return nil }
