package alarm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Source yields raw samples for a channel.
type Source interface {
	Read() (bool, error)
}

// FileSource reads a sysfs-style value file. Integers are active when
// non-zero; anything else is active only when it reads "true".
type FileSource struct {
	Path string
}

// Read returns the raw level of the file.
func (s FileSource) Read() (bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return false, err
	}

	raw := strings.TrimSpace(string(data))
	if n, err := strconv.Atoi(raw); err == nil {
		return n != 0, nil
	}

	return raw == "true", nil
}

// GPIOPath returns the sysfs value file of a GPIO pin.
func GPIOPath(pin int) string {
	return fmt.Sprintf("/sys/class/gpio/gpio%d/value", pin)
}
