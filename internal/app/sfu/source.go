package sfu

import (
	"errors"
	"fmt"
	"net"

	"github.com/dkeye/Rover/internal/metrics"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// maxDatagram fits any RTP packet an encoder sends over a standard MTU.
const maxDatagram = 1600

// UDPSource reads RTP from the datagrams an encoder pipeline sends to a
// local port.
type UDPSource struct {
	conn net.PacketConn
}

func ListenUDP(addr string) (*UDPSource, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen rtp %s: %w", addr, err)
	}
	log.Info().Str("module", "sfu.source").Str("addr", conn.LocalAddr().String()).Msg("rtp ingest listening")
	return &UDPSource{conn: conn}, nil
}

func (s *UDPSource) Addr() net.Addr { return s.conn.LocalAddr() }

// ReadRTP returns the next packet that parses as RTP. Datagrams that do not
// are dropped.
func (s *UDPSource) ReadRTP() (*rtp.Packet, error) {
	for {
		buf := make([]byte, maxDatagram)
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, fmt.Errorf("rtp source closed: %w", err)
			}
			return nil, fmt.Errorf("read rtp: %w", err)
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			metrics.RTPPacketsTotal.WithLabelValues("malformed").Inc()
			continue
		}
		metrics.RTPPacketsTotal.WithLabelValues("ok").Inc()
		return pkt, nil
	}
}

func (s *UDPSource) Close() error {
	return s.conn.Close()
}
