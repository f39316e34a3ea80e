package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/junsooki/RemoteDisplay/internal/config"
)

func TestResolveLevels(t *testing.T) {
	Convey("File levels follow the configured level", t, func() {
		So(resolveLevels("debug"), ShouldContain, logrus.DebugLevel)
		So(resolveLevels("INFO"), ShouldNotContain, logrus.DebugLevel)
		So(resolveLevels("warning"), ShouldResemble, levelMapping["warn"])
		So(resolveLevels("bogus"), ShouldResemble, levelMapping["info"])
		So(resolveLevel("bogus"), ShouldEqual, logrus.InfoLevel)
		So(resolveLevel("error"), ShouldEqual, logrus.ErrorLevel)
	})
}

func TestSetup(t *testing.T) {
	t.Cleanup(func() {
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})

	Convey("Console only", t, func() {
		var buf bytes.Buffer
		closeFn, err := Setup(config.Log{Level: "warn"}, &buf)
		So(err, ShouldBeNil)
		defer closeFn()

		logrus.Info("hidden")
		logrus.WithField("address", "10.0.0.5").Warn("shown")
		So(buf.String(), ShouldNotContainSubstring, "hidden")
		So(buf.String(), ShouldContainSubstring, `"address":"10.0.0.5"`)
		So(buf.String(), ShouldContainSubstring, `"msg":"shown"`)
	})

	Convey("With a rotating file", t, func() {
		dir := t.TempDir()
		var buf bytes.Buffer
		closeFn, err := Setup(config.Log{Level: "info", Path: dir, Name: "viewer", MaxAge: "168h", RotateTime: "24h"}, &buf)
		So(err, ShouldBeNil)

		logrus.Info("to file")
		logrus.Debug("filtered")
		So(closeFn(), ShouldBeNil)

		data, err := os.ReadFile(filepath.Join(dir, "viewer.log"))
		So(err, ShouldBeNil)
		So(string(data), ShouldContainSubstring, `"msg":"to file"`)
		So(string(data), ShouldNotContainSubstring, "filtered")
	})
}
