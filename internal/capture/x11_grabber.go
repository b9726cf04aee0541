package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// X11Grabber reads the root window of the X server.
type X11Grabber struct {
	conn         *xgb.Conn
	root         xproto.Window
	screen       *xproto.ScreenInfo
	randrEnabled bool
	mu           sync.Mutex
}

// NewX11Grabber connects to the X server named by $DISPLAY.
func NewX11Grabber() (*X11Grabber, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &X11Grabber{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
	}, nil
}

// Start initializes the RandR extension used to find the primary output.
func (g *X11Grabber) Start() error {
	log := logger.WithComponent("x11-grabber")

	if err := randr.Init(g.conn); err != nil {
		log.Warn().
			Err(err).
			Msg("RandR extension not available - full screen captures use the whole root window")
		g.randrEnabled = false
	} else {
		g.randrEnabled = true
		log.Debug().Msg("RandR extension initialized")
	}

	return nil
}

// Stop closes the X11 connection.
func (g *X11Grabber) Stop() error {
	g.conn.Close()
	return nil
}

func (g *X11Grabber) Name() string {
	return "x11"
}

// MainDisplay returns the bounds of the primary output, or of the root
// window when RandR reports no primary.
func (g *X11Grabber) MainDisplay() (image.Rectangle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rootBounds := image.Rect(0, 0, int(g.screen.WidthInPixels), int(g.screen.HeightInPixels))
	if rootBounds.Empty() {
		return image.Rectangle{}, ErrNoDisplay
	}
	if !g.randrEnabled {
		return rootBounds, nil
	}

	bounds, err := g.primaryOutputBounds()
	if err != nil {
		logger.WithComponent("x11-grabber").Debug().
			Err(err).
			Msg("No primary output, using root window")
		return rootBounds, nil
	}
	return bounds.Intersect(rootBounds), nil
}

func (g *X11Grabber) primaryOutputBounds() (image.Rectangle, error) {
	primary, err := randr.GetOutputPrimary(g.conn, g.root).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to get primary output: %w", err)
	}
	if primary.Output == 0 {
		return image.Rectangle{}, fmt.Errorf("no primary output set")
	}

	res, err := randr.GetScreenResourcesCurrent(g.conn, g.root).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to get screen resources: %w", err)
	}

	output, err := randr.GetOutputInfo(g.conn, primary.Output, res.ConfigTimestamp).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to get output info: %w", err)
	}
	if output.Crtc == 0 {
		return image.Rectangle{}, fmt.Errorf("primary output %s is disabled", string(output.Name))
	}

	crtc, err := randr.GetCrtcInfo(g.conn, output.Crtc, res.ConfigTimestamp).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to get crtc info: %w", err)
	}

	x, y := int(crtc.X), int(crtc.Y)
	return image.Rect(x, y, x+int(crtc.Width), y+int(crtc.Height)), nil
}

// CaptureRegion captures a region of the root window.
func (g *X11Grabber) CaptureRegion(r image.Rectangle) (*image.RGBA, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.Empty() {
		return nil, fmt.Errorf("%w: empty region", ErrCaptureFailed)
	}

	reply, err := xproto.GetImage(
		g.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(g.root),
		int16(r.Min.X), int16(r.Min.Y),
		uint16(r.Dx()), uint16(r.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get image: %v", ErrCaptureFailed, err)
	}

	return g.convertImageData(reply.Data, r.Dx(), r.Dy())
}

// convertImageData converts 24/32-bit ZPixmap data (BGRX) to RGBA.
func (g *X11Grabber) convertImageData(data []byte, width, height int) (*image.RGBA, error) {
	depth := int(g.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("%w: unsupported root depth %d", ErrCaptureFailed, depth)
	}
	if len(data) < width*height*4 {
		return nil, fmt.Errorf("%w: short image data (%d bytes for %dx%d)", ErrCaptureFailed, len(data), width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height*4; i += 4 {
		img.Pix[i+0] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img, nil
}
