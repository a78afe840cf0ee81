/*
 * Copyright (c) 2020 Baidu, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scenario

import (
	"fmt"
	"os"
	"path/filepath"
)

// stubTool writes an executable shell script named name into dir.
func stubTool(dir, name, body string) error {
	script := "#!/bin/sh\nset -e\n" + body
	return os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755)
}

// installStubTools builds a PATH-prepended directory of shell scripts
// standing in for the external binaries the Tool Invoker shells to,
// exactly the "sparse-file-only fake of the Tool Invoker" scenario tests
// are allowed to stage against: no real loop devices, MD arrays, or LUKS
// volumes are ever touched, only plain files under scratchRoot.
//
// losetup's state (which path is "attached" to which fake device) is
// tracked as a sidecar "<path>.loopdev" file so attach/detach/query stay
// consistent across calls without a real kernel loop driver backing them.
func installStubTools(binDir, scratchRoot string) error {
	tools := map[string]string{
		"dd": `
of=""; bs=1; count=0
for arg in "$@"; do
  case "$arg" in
    of=*) of="${arg#of=}" ;;
    bs=*) bs="${arg#bs=}" ;;
    count=*) count="${arg#count=}" ;;
  esac
done
size=$((bs * count))
head -c "$size" /dev/zero > "$of"
`,
		"losetup": `
if [ "$1" = "-f" ] && [ "$2" = "--show" ]; then
  path="$3"
  dev="/dev/loop$(cksum "$path" | cut -d' ' -f1 | awk '{print $1 % 8}')"
  echo "$dev" > "$path.loopdev"
  echo "$dev"
  exit 0
elif [ "$1" = "--associated" ]; then
  path="$2"
  if [ -f "$path.loopdev" ]; then
    dev=$(cat "$path.loopdev")
    echo "$dev: [0]:0 ($path)"
    exit 0
  fi
  exit 1
elif [ "$1" = "-d" ]; then
  dev="$2"
  grep -rl "^$dev$" "$SCRATCH_ROOT" 2>/dev/null | while read -r marker; do
    rm -f "$marker"
  done
  exit 0
fi
exit 1
`,
		"cryptsetup": `
cmd="$1"; shift
if [ "$cmd" = "luksFormat" ]; then
  header=""
  prev=""
  for arg in "$@"; do
    if [ "$prev" = "--header" ]; then header="$arg"; fi
    prev="$arg"
  done
  : > "$header"
  exit 0
elif [ "$cmd" = "luksOpen" ]; then
  offset=""
  keyfile=""
  prev=""
  for arg in "$@"; do
    case "$arg" in
      --keyfile-offset=*) offset="${arg#--keyfile-offset=}" ;;
    esac
    if [ "$prev" = "--key-file" ]; then keyfile="$arg"; fi
    prev="$arg"
  done
  if [ "$offset" = "$PDE_EXPECT_OFFSET" ] && [ "$keyfile" = "$PDE_EXPECT_KEYFILE" ]; then
    exit 0
  fi
  exit 1
elif [ "$cmd" = "luksClose" ]; then
  exit 0
fi
exit 1
`,
	}

	for name, body := range tools {
		if err := stubTool(binDir, name, body); err != nil {
			return fmt.Errorf("stubbing %s: %w", name, err)
		}
	}
	return nil
}
