// Package process supervises the long-running radio daemons the Linux radio
// driver depends on (hostapd for the provisioning AP, wpa_supplicant for the
// station link).
//
// A Manager starts one subprocess in its own process group, forwards every
// output line to an OnLine callback, and restarts it with exponential
// backoff when it exits unexpectedly. An exit whose last output line matches
// one of Config.FatalPatterns is not restarted: a daemon that rejects its
// configuration will reject it again.
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "wpa_supplicant",
//	    Binary:           "/usr/sbin/wpa_supplicant",
//	    Args:             []string{"-i", "wlan0", "-c", confPath},
//	    RestartOnFailure: true,
//	    OnLine: func(stream, line string) {
//	        events <- parse(line)
//	    },
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
