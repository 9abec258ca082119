package logging

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// BaseFields carries the action and config path shared by CLI entry points.
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ConnFields identifies one accepted connection.
func ConnFields(connID, remote string) logrus.Fields {
	return logrus.Fields{
		"conn_id": connID,
		"remote":  remote,
	}
}

// RequestFields describes one protocol request on a connection.
func RequestFields(connID, remote, command, file string, cacheHit bool) logrus.Fields {
	fields := ConnFields(connID, remote)
	fields["command"] = command
	fields["file"] = file
	fields["cache_hit"] = cacheHit
	return fields
}

// SizeFields renders a byte count both raw and human readable.
func SizeFields(size int64) logrus.Fields {
	human := "0 B"
	if size > 0 {
		human = humanize.IBytes(uint64(size))
	}
	return logrus.Fields{
		"size":       size,
		"size_human": human,
	}
}
