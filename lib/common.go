package lib

import (
	"flag"
	"log"
)

// Relayer is the local server started by main for every [[Relayer]] section
type Relayer interface {
	Start() error
	Reload(*RelayerConfig) error
	Exit()
	Listen() string
	Status() RelayerStatus
}

// RelayerStatus is the per relayer section of the status endpoint
type RelayerStatus struct {
	Listen      string `json:"listen"`
	Mode        string `json:"mode"`
	Connections int64  `json:"connections"`
	Requests    int64  `json:"requests"`
	Errors      int64  `json:"errors"`
}

type MainConfig struct {
	ConfigFileName string
	Debug          bool
	ShowVersion    bool
}

// GlobalConfig is the configuration for the main programm
var GlobalConfig MainConfig

// ParseFlags fills GlobalConfig from the command line
func ParseFlags() {
	flag.StringVar(&GlobalConfig.ConfigFileName, "c", "smart-ssdb.conf", "Configuration filename")
	flag.BoolVar(&GlobalConfig.Debug, "d", false, "Show debug info")
	flag.BoolVar(&GlobalConfig.ShowVersion, "v", false, "Show version and exit")
	flag.Parse()
}

// Debugf prints only when the debug flag is set
func Debugf(format string, args ...interface{}) {
	if GlobalConfig.Debug {
		log.Printf(format, args...)
	}
}
