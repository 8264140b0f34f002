// SPDX-License-Identifier: Apache-2.0

package cmd

import "errors"

var errCatalogNotInitialized = errors.New("catalog schema is not initialized, run 'datasync init' to initialize")
