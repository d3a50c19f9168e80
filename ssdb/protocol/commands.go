package protocol

import "strings"

// Commands that modify data and must be sent to a master
var writeCommands = map[string]bool{
	"set":              true,
	"setx":             true,
	"setnx":            true,
	"getset":           true,
	"expire":           true,
	"setbit":           true,
	"del":              true,
	"incr":             true,
	"decr":             true,
	"multi_set":        true,
	"multi_del":        true,
	"hset":             true,
	"hdel":             true,
	"hincr":            true,
	"hdecr":            true,
	"hclear":           true,
	"multi_hset":       true,
	"multi_hdel":       true,
	"zset":             true,
	"zdel":             true,
	"zincr":            true,
	"zdecr":            true,
	"zclear":           true,
	"multi_zset":       true,
	"multi_zdel":       true,
	"zpop_front":       true,
	"zpop_back":        true,
	"zremrangebyrank":  true,
	"zremrangebyscore": true,
	"qpush":            true,
	"qpush_front":      true,
	"qpush_back":       true,
	"qpop":             true,
	"qpop_front":       true,
	"qpop_back":        true,
	"qtrim_front":      true,
	"qtrim_back":       true,
	"qset":             true,
	"qclear":           true,
}

// IsWriteCommand reports if the command modifies data
func IsWriteCommand(cmd string) bool {
	return writeCommands[strings.ToLower(cmd)]
}
