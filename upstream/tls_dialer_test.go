package upstream_test

import (
	"testing"

	utls "github.com/refraction-networking/utls"

	"github.com/wiretap-dev/wiretap/upstream"
)

func TestUTLSDialer_NotNil(t *testing.T) {
	d := upstream.UTLSDialer(utls.HelloChrome_120)
	if d == nil {
		t.Fatal("UTLSDialer returned nil for HelloChrome_120")
	}
}

func TestUTLSDialerHTTP1_NotNil(t *testing.T) {
	for _, id := range []utls.ClientHelloID{
		utls.HelloChrome_120,
		utls.HelloChrome_131,
		utls.HelloChrome_Auto,
	} {
		d := upstream.UTLSDialerHTTP1(id)
		if d == nil {
			t.Errorf("UTLSDialerHTTP1 returned nil for %s", id.Str())
		}
	}
}

func TestMITMClientHelloIsSet(t *testing.T) {
	if upstream.MITMClientHello.Str() == "" {
		t.Error("expected MITMClientHello to name a ClientHelloID")
	}
}
