package services

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvifd/internal/alarm"
	"github.com/SridarDhandapani/onvifd/internal/deviceio"
	"github.com/SridarDhandapani/onvifd/internal/events"
)

// MotionSource is the video source token used for simulated motion.
const MotionSource = "VideoSource_1"

// InputSimulator drives alarm inputs by hand.
type InputSimulator interface {
	InputLister
	Simulate(channelID string, active bool) error
}

// Debug is the JSON API used to inject events and inspect device state.
type Debug struct {
	router   *events.Router
	registry *events.Registry
	inputs   InputSimulator
	relays   *deviceio.Relays
}

// NewDebug creates the debug API handlers.
func NewDebug(router *events.Router, registry *events.Registry, inputs InputSimulator, relays *deviceio.Relays) *Debug {
	return &Debug{router: router, registry: registry, inputs: inputs, relays: relays}
}

// Register mounts the debug routes.
func (d *Debug) Register(r gin.IRoutes) {
	r.POST("/internal/motion", d.motion)
	r.POST("/internal/input/:id", d.input)
	r.POST("/internal/input/:id/active", d.inputActive)
	r.POST("/internal/relay/:id/on", d.relayOn)

	r.GET("/api/io/status", d.status)
	r.GET("/api/io/inputs", d.listInputs)
	r.GET("/api/io/outputs", d.listOutputs)
	r.GET("/api/io/input/:id", d.getInput)
	r.GET("/api/io/output/:id", d.getOutput)
	r.POST("/api/io/input/:id/:state", d.setInput)
	r.POST("/api/io/output/:id/:state", d.output)

	r.GET("/api/subscriptions", d.subscriptions)
	r.GET("/api/subscriptions/:id", d.subscription)
}

type activeBody struct {
	Active *bool `json:"active"`
}

// activeFlag reads the optional "active" field; a missing body means true.
func activeFlag(c *gin.Context) (bool, error) {
	var body activeBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			return false, errors.NewNotValid(err, "request body")
		}
	}

	return body.Active == nil || *body.Active, nil
}

func fail(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"status": "error", "message": err.Error()})
}

func (d *Debug) motion(c *gin.Context) {
	active, err := activeFlag(c)
	if err != nil {
		fail(c, err)
		return
	}

	d.router.MotionChanged(MotionSource, active)

	c.JSON(http.StatusOK, gin.H{"status": "ok", "event": "motion", "active": active})
}

func (d *Debug) input(c *gin.Context) {
	active, err := activeFlag(c)
	if err != nil {
		fail(c, err)
		return
	}

	d.simulate(c, active)
}

func (d *Debug) inputActive(c *gin.Context) {
	d.simulate(c, true)
}

func (d *Debug) setInput(c *gin.Context) {
	d.simulate(c, parseBool(c.Param("state")))
}

func (d *Debug) simulate(c *gin.Context, active bool) {
	id := d.inputID(c.Param("id"))

	if err := d.inputs.Simulate(id, active); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "event": "input", "input": id, "active": active})
}

// inputID maps plain channel numbers onto the default input names unless a
// channel is literally named that way.
func (d *Debug) inputID(id string) string {
	n, err := strconv.Atoi(id)
	if err != nil {
		return id
	}

	if _, ok := d.findInput(id); ok {
		return id
	}

	return alarm.DefaultChannelID(n)
}

func (d *Debug) findInput(id string) (alarm.ChannelStatus, bool) {
	for _, ch := range d.inputs.Channels() {
		if ch.ID == id {
			return ch, true
		}
	}

	return alarm.ChannelStatus{}, false
}

func (d *Debug) getInput(c *gin.Context) {
	id := d.inputID(c.Param("id"))

	ch, ok := d.findInput(id)
	if !ok {
		fail(c, errors.NotFoundf("alarm input %q", id))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": ch.ID, "value": ch.Active, "state": formatState(ch.Active)})
}

func (d *Debug) listInputs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"inputs": d.inputs.Channels()})
}

func (d *Debug) listOutputs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"outputs": d.relays.List()})
}

func relayToken(id string) string {
	if _, err := strconv.Atoi(id); err == nil {
		return "Relay" + id
	}

	return id
}

func (d *Debug) getOutput(c *gin.Context) {
	relay, err := d.relays.Get(relayToken(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": relay.Token, "value": relay.Active, "state": formatState(relay.Active)})
}

func (d *Debug) relayOn(c *gin.Context) {
	d.setRelay(c, true)
}

func (d *Debug) output(c *gin.Context) {
	d.setRelay(c, parseBool(c.Param("state")))
}

func (d *Debug) setRelay(c *gin.Context, active bool) {
	token := relayToken(c.Param("id"))

	if err := d.relays.Set(token, active); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "value": active, "state": formatState(active)})
}

func (d *Debug) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"inputs":  d.inputs.Channels(),
		"outputs": d.relays.List(),
		"pending": d.registry.Pending(),
	})
}

// subscriptions lists live subscriptions, optionally only those with the
// delivery mode given in ?mode=.
func (d *Debug) subscriptions(c *gin.Context) {
	list := d.registry.List()

	if value := c.Query("mode"); value != "" {
		var mode events.Mode
		if err := mode.UnmarshalText([]byte(value)); err != nil {
			fail(c, err)
			return
		}

		filtered := list[:0]
		for _, info := range list {
			if info.Mode == mode {
				filtered = append(filtered, info)
			}
		}

		list = filtered
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": list})
}

func (d *Debug) subscription(c *gin.Context) {
	info, err := d.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "on", "active":
		return true
	default:
		return false
	}
}

func formatState(active bool) string {
	if active {
		return "active"
	}

	return "inactive"
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
