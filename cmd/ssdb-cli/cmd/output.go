package cmd

import (
	"fmt"
	"io"

	"github.com/pquerna/ffjson/ffjson"
)

func printJSON(w io.Writer, v interface{}) error {
	buf, err := ffjson.Marshal(v)
	if err != nil {
		return err
	}
	defer ffjson.Pool(buf)
	_, err = fmt.Fprintf(w, "%s\n", buf)
	return err
}
