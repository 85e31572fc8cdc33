package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const maxDatagram = 65536

// Config describes the advertised device.
type Config struct {
	// Listen is the UDP address to bind; defaults to ":3702".
	Listen string
	// Group is the multicast group to join; defaults to MulticastAddr.
	Group    string
	Endpoint string
	Scopes   []string
	// Port and Path locate the device service on the answering interface.
	Port int
	Path string
}

// Responder answers multicast Probes with ProbeMatches.
type Responder struct {
	cfg  Config
	conn *ipv4.PacketConn
	log  zerolog.Logger

	closeOnce sync.Once
}

// Listen binds the discovery socket and joins the multicast group on every
// multicast-capable interface.
func Listen(cfg Config, log zerolog.Logger) (*Responder, error) {
	if cfg.Listen == "" {
		cfg.Listen = ":3702"
	}

	if cfg.Group == "" {
		cfg.Group = MulticastAddr
	}

	if cfg.Endpoint == "" {
		endpoint, err := NewEndpoint()
		if err != nil {
			return nil, err
		}

		cfg.Endpoint = endpoint
	}

	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, errors.Annotatef(err, "resolving multicast group %s", cfg.Group)
	}

	c, err := net.ListenPacket("udp4", cfg.Listen)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %s", cfg.Listen)
	}

	conn := ipv4.NewPacketConn(c)

	ifaces, err := net.Interfaces()
	if err != nil {
		c.Close()
		return nil, errors.Annotate(err, "listing interfaces")
	}

	joined := 0

	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		if err := conn.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
			log.Debug().Err(err).Str("interface", iface.Name).Msg("Failed to join discovery group")
			continue
		}

		joined++
	}

	if joined == 0 {
		c.Close()
		return nil, errors.NotFoundf("multicast interface for %s", cfg.Group)
	}

	log.Info().Str("endpoint", cfg.Endpoint).Int("interfaces", joined).Msg("WS-Discovery responder listening")

	return &Responder{cfg: cfg, conn: conn, log: log}, nil
}

// Run answers probes until ctx is done or the responder is closed.
func (r *Responder) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.Close()
	}()

	buf := make([]byte, maxDatagram)

	for {
		n, _, src, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return errors.Annotate(err, "reading discovery socket")
		}

		r.handle(buf[:n], src)
	}
}

// Close leaves the group and releases the socket.
func (r *Responder) Close() {
	r.closeOnce.Do(func() {
		r.conn.Close()
	})
}

func (r *Responder) handle(data []byte, src net.Addr) {
	probe, err := ParseProbe(data)
	if err != nil {
		if !errors.Is(err, errors.NotSupported) {
			r.log.Debug().Err(err).Stringer("from", src).Msg("Ignoring discovery datagram")
		}

		return
	}

	if !probe.Matches() {
		return
	}

	reply, err := BuildProbeMatch(probe, Advertisement{
		Endpoint: r.cfg.Endpoint,
		XAddrs:   []string{r.xaddr(src)},
		Scopes:   r.cfg.Scopes,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to build ProbeMatch")
		return
	}

	if _, err := r.conn.WriteTo(reply, nil, src); err != nil {
		r.log.Warn().Err(err).Stringer("to", src).Msg("Failed to answer probe")
		return
	}

	r.log.Debug().Stringer("to", src).Str("message_id", probe.MessageID).Msg("Answered probe")
}

// xaddr builds the device service URL on the interface that routes to src.
func (r *Responder) xaddr(src net.Addr) string {
	host := "127.0.0.1"

	if udp, ok := src.(*net.UDPAddr); ok {
		if c, err := net.DialUDP("udp4", nil, udp); err == nil {
			host = c.LocalAddr().(*net.UDPAddr).IP.String()
			c.Close()
		}
	}

	return fmt.Sprintf("http://%s:%d%s", host, r.cfg.Port, r.cfg.Path)
}
