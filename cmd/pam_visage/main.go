// Command pam_visage is the PAM module's C ABI entry point. It is
// built with -buildmode=c-shared to produce pam_visage.so, installed
// per spec.md §6 as `auth sufficient pam_visage.so`. All logic beyond
// the C glue lives in pkg/pam so it can be unit tested without a C
// toolchain in the loop.
package main

/*
#cgo LDFLAGS: -lpam
#include <security/pam_appl.h>
#include <security/pam_modules.h>
#include <stdlib.h>

static const char *visage_get_user(pam_handle_t *pamh) {
	const char *user = NULL;
	if (pam_get_user(pamh, &user, NULL) != PAM_SUCCESS) {
		return NULL;
	}
	return user;
}

static void visage_conv_info(pam_handle_t *pamh, const char *msg) {
	const struct pam_conv *conv;
	if (pam_get_item(pamh, PAM_CONV, (const void **)&conv) != PAM_SUCCESS || conv == NULL || conv->conv == NULL) {
		return;
	}
	struct pam_message message;
	message.msg_style = PAM_TEXT_INFO;
	message.msg = msg;
	const struct pam_message *msgp = &message;
	struct pam_response *resp = NULL;
	conv->conv(1, &msgp, &resp, conv->appdata_ptr);
	if (resp != NULL) {
		free(resp);
	}
}
*/
import "C"

import (
	"log/syslog"
	"unsafe"

	"github.com/sovren-software/visage/pkg/pam"
)

const syslogIdent = "pam_visage"

func openSyslog() *syslog.Writer {
	w, err := syslog.New(syslog.LOG_AUTHPRIV|syslog.LOG_INFO, syslogIdent)
	if err != nil {
		return nil
	}
	return w
}

func logInfo(w *syslog.Writer, msg string) {
	if w != nil {
		_ = w.Info(msg)
	}
}

func logWarn(w *syslog.Writer, msg string) {
	if w != nil {
		_ = w.Warning(msg)
	}
}

//export pam_sm_authenticate
func pam_sm_authenticate(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C.char) (result C.int) {
	w := openSyslog()
	defer func() {
		if r := recover(); r != nil {
			logWarn(w, "panic recovered in pam_sm_authenticate; returning IGNORE")
			result = C.int(pam.Ignore)
		}
	}()

	cUser := C.visage_get_user(pamh)
	if cUser == nil {
		logWarn(w, "could not resolve PAM username; returning IGNORE")
		return C.int(pam.Ignore)
	}
	username := C.GoString(cUser)
	if username == "" {
		logWarn(w, "empty PAM username; returning IGNORE")
		return C.int(pam.Ignore)
	}

	matched, err := pam.Verify(username)
	code := pam.ReturnCodeFor(matched, err)

	switch {
	case err != nil:
		logWarn(w, "visage verify failed: "+err.Error())
	case code == pam.Success:
		logInfo(w, "face recognized for "+username)
		msg := C.CString("Visage: face recognized")
		defer C.free(unsafe.Pointer(msg))
		C.visage_conv_info(pamh, msg)
	default:
		logInfo(w, "face not recognized for "+username)
	}

	return C.int(code)
}

//export pam_sm_setcred
func pam_sm_setcred(pamh *C.pam_handle_t, flags C.int, argc C.int, argv **C.char) C.int {
	return C.int(pam.Ignore)
}

func main() {}
