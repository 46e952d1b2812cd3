// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import "fmt"

// semanticAlphabet is the set of characters allowed in the pre-release
// portion of the version string.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

// These constants define the application version and follow the semantic
// versioning 2.0.0 (http://semver.org/).
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	// appPreRelease MUST only contain characters from semanticAlphabet
	// per semantic versioning.
	appPreRelease = "alpha"
)

// appBuild is defined as a variable so it can be overridden during the build
// process with '-ldflags "-X main.appBuild foo' if needed.  It MUST only
// contain characters from semanticAlphabet per semantic versioning.
var appBuild string

// version returns the application version as a properly formed string per
// the semantic versioning 2.0.0 (http://semver.org/).
func version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version,
			normalizeVerString(appPreRelease))
	}
	if appBuild != "" {
		version = fmt.Sprintf("%s+%s", version,
			normalizeVerString(appBuild))
	}

	return version
}

// normalizeVerString returns the passed string stripped of all characters
// which are not valid according to the semantic versioning guidelines.
func normalizeVerString(str string) string {
	result := make([]rune, 0, len(str))
	for _, r := range str {
		for _, allowed := range semanticAlphabet {
			if r == allowed {
				result = append(result, r)
				break
			}
		}
	}
	return string(result)
}
