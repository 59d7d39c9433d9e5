package omx

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ListComponents logs every component name the core can instantiate.
func ListComponents(core Core, log *logrus.Entry) ([]string, error) {
	names, err := core.ComponentNames()
	if err != nil {
		return nil, fmt.Errorf("omx: list components: %w", err)
	}
	for i, name := range names {
		log.WithField("index", i).Info(name)
	}
	return names, nil
}

// DumpPort logs a port definition followed by its supported formats.
func DumpPort(h Handle, port uint32, log *logrus.Entry) error {
	def, err := h.GetPortDefinition(port)
	if err != nil {
		return fmt.Errorf("omx: %s port %d definition: %w", h.Name(), port, err)
	}
	log.WithFields(portFields(def)).Infof("%s port %d", h.Name(), port)

	for i := uint32(0); ; i++ {
		f, err := h.GetImagePortFormat(port, i)
		if errors.Is(err, ErrNoMore) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("omx: %s port %d format %d: %w", h.Name(), port, i, err)
		}
		log.WithFields(logrus.Fields{
			"port":        port,
			"index":       f.Index,
			"compression": f.Compression,
			"color":       f.Color,
		}).Info("supported format")
	}
}

// DumpComponent logs every image port of a handle.
func DumpComponent(h Handle, log *logrus.Entry) error {
	start, count, err := h.ImagePorts()
	if err != nil {
		return fmt.Errorf("omx: %s image ports: %w", h.Name(), err)
	}
	log.WithFields(logrus.Fields{"component": h.Name(), "start": start, "ports": count}).Info("image domain")
	for p := start; p < start+count; p++ {
		if err := DumpPort(h, p, log); err != nil {
			return err
		}
	}
	return nil
}

func portFields(d PortDefinition) logrus.Fields {
	return logrus.Fields{
		"dir":         d.Dir,
		"domain":      d.Domain,
		"enabled":     d.Enabled,
		"populated":   d.Populated,
		"buffers":     d.BufferCountActual,
		"buffers_min": d.BufferCountMin,
		"buffer_size": d.BufferSize,
		"width":       d.Width,
		"height":      d.Height,
		"stride":      d.Stride,
		"slice":       d.SliceHeight,
		"compression": d.Compression,
		"color":       d.Color,
		"alignment":   d.BufferAlignment,
	}
}
